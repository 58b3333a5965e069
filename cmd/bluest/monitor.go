package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/node"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <address|name>",
	Short: "Stream decoded feature samples from a node",
	Long: fmt.Sprintf(`Connects to a BlueST node, enables notifications and prints every decoded
sample until interrupted or --duration elapses.

Examples:
  # Every feature of the node
  bluest monitor %s

  # Only two features, for one minute, exported to prometheus
  bluest monitor %s --feature Temperature --feature Pressure --duration 1m --metrics-addr :9100

  # Decode capability bit 5 with a Lua script
  bluest monitor %s --decoder 5=wind.lua

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorFeatures    []string
	monitorDuration    time.Duration
	monitorScanTimeout time.Duration
	monitorRetries     int
	monitorDecoders    []string
	monitorMetricsAddr string
)

func init() {
	monitorCmd.Flags().StringArrayVar(&monitorFeatures, "feature", nil, "Feature name to monitor (repeatable; all when omitted)")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 until interrupted)")
	monitorCmd.Flags().DurationVar(&monitorScanTimeout, "scan-timeout", 0, "How long to look for the node (default from config)")
	monitorCmd.Flags().IntVar(&monitorRetries, "retries", 0, "Connection attempts (default from config)")
	monitorCmd.Flags().StringArrayVar(&monitorDecoders, "decoder", nil, "Lua decoder as [device-type:]bit=script.lua (repeatable)")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
}

// samplePrinter writes one line per sample. Listeners run on dispatcher
// lanes, so writes are serialized.
type samplePrinter struct {
	mu   sync.Mutex
	w    io.Writer
	name *color.Color
}

func (p *samplePrinter) OnUpdate(f *feature.Feature, s feature.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", p.name.Sprintf("%-14s", f.Name()), feature.FormatSample(s))
}

// selectFeatures picks the features named in names, matched without case.
func selectFeatures(n *node.Node, names []string) ([]*feature.Feature, error) {
	all := n.Features()
	if len(names) == 0 {
		if len(all) == 0 {
			return nil, fmt.Errorf("node %s exposes no decodable feature", n.FriendlyName())
		}
		return all, nil
	}

	var selected []*feature.Feature
	for _, name := range names {
		var found *feature.Feature
		for _, f := range all {
			if strings.EqualFold(f.Name(), name) {
				found = f
				break
			}
		}
		if found == nil {
			available := make([]string, len(all))
			for i, f := range all {
				available[i] = f.Name()
			}
			return nil, fmt.Errorf("node %s has no feature %q (available: %s)", n.FriendlyName(), name, strings.Join(available, ", "))
		}
		selected = append(selected, found)
	}
	return selected, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorDuration < 0 {
		return fmt.Errorf("invalid duration %s: must not be negative", monitorDuration)
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, monitorDecoders)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	metricsAddr := monitorMetricsAddr
	if metricsAddr == "" {
		metricsAddr = a.cfg.MetricsAddr
	}
	var exporter *sampleExporter
	if metricsAddr != "" {
		if exporter, err = newSampleExporter(a.metrics); err != nil {
			return err
		}
		if _, err := serveMetrics(ctx, metricsAddr, a.metrics, a.logger); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	n, err := a.findNode(ctx, args[0], monitorScanTimeout)
	if err != nil {
		return err
	}
	if err := a.connect(ctx, n, monitorRetries); err != nil {
		return err
	}

	runCtx, release := watchLink(ctx, n)
	defer release()

	features, err := selectFeatures(n, monitorFeatures)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s (%s)\n", n.FriendlyName(), n.BoardType())

	printer := &samplePrinter{w: out, name: color.New(color.FgCyan)}
	for _, f := range features {
		remove := f.AddListener(printer)
		defer remove()
		if exporter != nil {
			removeExporter := f.AddListener(exporter)
			defer removeExporter()
		}
		if err := n.EnableNotifications(ctx, f); err != nil {
			return err
		}
	}

	if monitorDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, monitorDuration)
		defer cancel()
	}
	<-runCtx.Done()

	if cause := context.Cause(runCtx); cause != context.DeadlineExceeded && cause != context.Canceled {
		return cause
	}

	if n.State() == node.StateConnected {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, f := range features {
			if err := n.DisableNotifications(dctx, f); err != nil {
				a.logger.WithError(err).WithField("feature", f.Name()).Warn("Failed to disable notifications")
			}
		}
	}
	return nil
}
