//go:build darwin

package main

const (
	exampleDeviceAddress = "01234567-89AB-CDEF-0123-456789ABCDEF"
	deviceAddressNote    = "Node address format: 128-bit UUID, with or without dashes, or the advertised name\n  Use 'bluest scan' to discover nodes"
)
