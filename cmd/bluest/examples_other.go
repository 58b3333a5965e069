//go:build !darwin

package main

const (
	exampleDeviceAddress = "C0:85:2A:3B:4C:5D"
	deviceAddressNote    = "Node address format: MAC address (e.g., C0:85:2A:3B:4C:5D) or the advertised name\n  Use 'bluest scan' to discover nodes"
)
