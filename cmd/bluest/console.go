package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bluest/console"
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console <address|name>",
	Short: "Bridge a node debug console to a PTY",
	Long: fmt.Sprintf(`Connects to a BlueST node and exposes its debug console on a pseudoterminal.

Text the node prints on its stdout and stderr characteristics appears on the
PTY; whatever is typed on the PTY is sent to the node's terminal
characteristic in chunks of at most 20 bytes. Point any terminal program
(screen, minicom, picocom) at the printed device or at --link.

Example:
  bluest console %s --link /tmp/node
  screen /tmp/node

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runConsole,
}

var (
	consoleLink        string
	consoleScanTimeout time.Duration
	consoleRetries     int
	consoleDuration    time.Duration
)

func init() {
	consoleCmd.Flags().StringVar(&consoleLink, "link", "", "Create a symlink to the PTY device (e.g., /tmp/node)")
	consoleCmd.Flags().DurationVar(&consoleScanTimeout, "scan-timeout", 0, "How long to look for the node (default from config)")
	consoleCmd.Flags().IntVar(&consoleRetries, "retries", 0, "Connection attempts (default from config)")
	consoleCmd.Flags().DurationVarP(&consoleDuration, "duration", "d", 0, "Close the bridge after this long (0 until interrupted)")
}

func runConsole(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	n, err := a.findNode(ctx, args[0], consoleScanTimeout)
	if err != nil {
		return err
	}
	if err := a.connect(ctx, n, consoleRetries); err != nil {
		return err
	}
	runCtx, release := watchLink(ctx, n)
	defer release()

	c := console.New(n, a.transport,
		console.WithLogger(a.logger),
		console.WithBufferSize(a.cfg.Console.BufferSize),
	)
	if err := c.Open(ctx); err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = c.Close(cctx)
	}()

	link := consoleLink
	if link == "" {
		link = a.cfg.Console.Link
	}
	b, err := console.NewBridge(c, console.BridgeOptions{Link: link, Logger: a.logger})
	if err != nil {
		return err
	}
	defer b.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Console of %s on %s\n", n.FriendlyName(), color.GreenString(b.TTYName()))
	if b.Link() != "" {
		fmt.Fprintf(out, "Symlink: %s -> %s\n", b.Link(), b.TTYName())
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	if consoleDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, consoleDuration)
		defer cancel()
	}
	<-runCtx.Done()

	stats := b.Stats()
	a.logger.WithFields(logrus.Fields{
		"bytes_in":  stats.BytesIn,
		"bytes_out": stats.BytesOut,
		"dropped":   stats.InputDropped + stats.OutputDropped,
	}).Info("Console bridge closed")

	if cause := context.Cause(runCtx); cause != context.DeadlineExceeded && cause != context.Canceled {
		return cause
	}
	return nil
}
