package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bluest/node"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover BlueST nodes",
	Long: `Scan for BlueST nodes in the vicinity and list them with their board,
signal strength and the features resolved from their capability mask.

Advertisements that are not BlueST are ignored.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Also list capability bits without a decoder")
}

// nodeView is the printed form of a node.
type nodeView struct {
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Board      string   `json:"board"`
	DeviceType uint8    `json:"device_type"`
	RSSI       int      `json:"rssi"`
	TxPower    int      `json:"tx_power"`
	Sleeping   bool     `json:"sleeping"`
	Features   []string `json:"features"`
	Unmapped   []int    `json:"unmapped_bits,omitempty"`
}

func newNodeView(n *node.Node, withUnmapped bool) nodeView {
	v := nodeView{
		Name:       n.Name(),
		Address:    n.Address(),
		Board:      n.BoardType().String(),
		DeviceType: n.DeviceType(),
		RSSI:       n.RSSI(),
		TxPower:    n.TxPower(),
		Sleeping:   n.Sleeping(),
		Features:   []string{},
	}
	mapped := uint32(0)
	for _, f := range n.Features() {
		v.Features = append(v.Features, f.Name())
		if f.Bit() >= 0 {
			mapped |= 1 << uint(f.Bit())
		}
	}
	if withUnmapped {
		rest := n.FeatureMask() &^ mapped
		for bit := 31; bit >= 0; bit-- {
			if rest&(1<<uint(bit)) != 0 {
				v.Unmapped = append(v.Unmapped, bit)
			}
		}
	}
	return v
}

func runScan(cmd *cobra.Command, _ []string) error {
	if !slices.Contains([]string{"table", "json"}, scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	progress := NewCountdown(out, "Scanning for BlueST nodes", scanDuration)
	progress.Start()
	err = a.manager.StartDiscovery(ctx, true, scanDuration)
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Error("scan failed")
		return err
	}

	nodes := a.manager.Nodes()
	views := make([]nodeView, len(nodes))
	for i, n := range nodes {
		views[i] = newNodeView(n, scanAll)
	}

	if scanFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(views)
	}
	return displayNodesTable(out, views)
}

func displayNodesTable(out io.Writer, views []nodeView) error {
	if len(views) == 0 {
		fmt.Fprintln(out, "No nodes discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tBOARD\tRSSI\tFEATURES")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, v := range views {
		name := v.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		features := strings.Join(v.Features, ",")
		for _, bit := range v.Unmapped {
			if features != "" {
				features += ","
			}
			features += fmt.Sprintf("bit%d", bit)
		}
		if v.Sleeping {
			name += " (sleeping)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s\n", name, v.Address, v.Board, v.RSSI, features)
	}
	return w.Flush()
}
