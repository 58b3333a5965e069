package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bluest/internal/lua"
	"github.com/srg/bluest/manager"
	"github.com/srg/bluest/node"
	"github.com/srg/bluest/pkg/config"
	"github.com/srg/bluest/pkg/retry"
	"github.com/srg/bluest/registry"
	"github.com/srg/bluest/transport"
	"github.com/srg/bluest/transport/goble"
)

const shutdownTimeout = 5 * time.Second

// newTransport creates the BLE transport (can be overridden in tests).
var newTransport = func(logger *logrus.Logger) transport.Transport {
	return goble.New(logger)
}

// app is the state shared by every command run: configuration, logger,
// transport and an initialized manager.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	metrics   *prometheus.Registry
	transport transport.Transport
	manager   *manager.Manager
	engines   []*lua.Engine
}

// loadConfig reads --config and applies --log-level on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
		if _, err := cfg.Level(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// parseDecoderFlag parses "[device-type:]bit=script". The device type
// defaults to the wildcard table and accepts 0x prefixed hex.
func parseDecoderFlag(value string) (config.DecoderConfig, error) {
	var d config.DecoderConfig
	key, script, ok := strings.Cut(value, "=")
	if !ok || script == "" {
		return d, fmt.Errorf("invalid decoder %q: expected [device-type:]bit=script.lua", value)
	}
	if typ, bit, ok := strings.Cut(key, ":"); ok {
		v, err := strconv.ParseUint(typ, 0, 8)
		if err != nil {
			return d, fmt.Errorf("invalid decoder %q: bad device type %q", value, typ)
		}
		d.DeviceType = uint8(v)
		key = bit
	}
	bit, err := strconv.Atoi(key)
	if err != nil || bit < 0 || bit > 31 {
		return d, fmt.Errorf("invalid decoder %q: bit must be 0..31", value)
	}
	d.Bit = bit
	d.Script = script
	return d, nil
}

// newApp builds the manager and registers every scripted decoder from the
// configuration followed by the ones given on the command line.
func newApp(ctx context.Context, cmd *cobra.Command, decoderFlags []string) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	for _, value := range decoderFlags {
		d, err := parseDecoderFlag(value)
		if err != nil {
			return nil, err
		}
		cfg.Decoders = append(cfg.Decoders, d)
	}

	a := &app{
		cfg:     cfg,
		logger:  cfg.NewLogger(),
		metrics: prometheus.NewRegistry(),
	}

	reg := registry.New()
	for _, d := range cfg.Decoders {
		e, err := lua.Register(reg, d.DeviceType, d.Bit, d.Script, a.logger)
		if err != nil {
			a.closeEngines()
			return nil, fmt.Errorf("decoder %s: %w", d.Script, err)
		}
		a.engines = append(a.engines, e)
		a.logger.WithFields(logrus.Fields{
			"script":      d.Script,
			"device_type": d.DeviceType,
			"bit":         d.Bit,
			"feature":     e.Name(),
		}).Info("Registered Lua decoder")
	}

	a.transport = newTransport(a.logger)
	a.manager = manager.New(a.transport,
		manager.WithConfig(cfg.Manager),
		manager.WithLogger(a.logger),
		manager.WithRegistry(reg),
		manager.WithRegisterer(a.metrics),
	)
	if err := a.manager.Init(ctx); err != nil {
		a.closeEngines()
		return nil, err
	}
	return a, nil
}

func (a *app) closeEngines() {
	for _, e := range a.engines {
		e.Close()
	}
	a.engines = nil
}

// Close disconnects every node and releases the decoders.
func (a *app) Close() error {
	err := a.manager.Shutdown(shutdownTimeout)
	a.closeEngines()
	return err
}

// findNode discovers until a node whose address or name matches target shows
// up, or the discovery window closes.
func (a *app) findNode(ctx context.Context, target string, window time.Duration) (*node.Node, error) {
	match := func(n *node.Node) bool {
		return strings.EqualFold(n.Address(), target) || n.Name() == target
	}
	for _, n := range a.manager.Nodes() {
		if match(n) {
			return n, nil
		}
	}

	events := a.manager.Events()
	if err := a.manager.StartDiscovery(ctx, false, window); err != nil {
		return nil, err
	}
	defer func() { _ = a.manager.StopDiscovery() }()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, target)
			}
			switch {
			case e.Type == manager.EventNodeDiscovered && match(e.Node):
				a.logger.WithField("node", e.Node.FriendlyName()).Info("Found node")
				return e.Node, nil
			case e.Type == manager.EventDiscoveryStopped:
				return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, target)
			}
		}
	}
}

// connect opens the link with the configured retry policy. attempts
// overrides the policy when positive.
func (a *app) connect(ctx context.Context, n *node.Node, attempts int) error {
	policy := a.cfg.Connect.Retry
	if attempts > 0 {
		policy.Attempts = attempts
	}
	return retry.Do(ctx, policy, a.logger, func(ctx context.Context, attempt int) error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.Connect.Timeout)
		defer cancel()
		err := n.Connect(cctx)
		if errors.Is(err, node.ErrIllegalTransition) {
			return retry.Permanent(err)
		}
		return err
	})
}

// watchLink cancels the returned context with ErrConnectionLost when n
// stops being connected.
func watchLink(ctx context.Context, n *node.Node) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	remove := n.AddListener(node.StateListenerFunc(func(_ *node.Node, to, _ node.State) {
		if to == node.StateUnreachable || to == node.StateIdle {
			cancel(fmt.Errorf("%w: %s", ErrConnectionLost, n.FriendlyName()))
		}
	}))
	return ctx, func() {
		remove()
		cancel(nil)
	}
}
