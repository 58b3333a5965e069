package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/internal/groutine"
)

// sampleExporter mirrors every decoded value into a gauge.
type sampleExporter struct {
	values  *prometheus.GaugeVec
	samples *prometheus.CounterVec
}

func newSampleExporter(reg prometheus.Registerer) (*sampleExporter, error) {
	e := &sampleExporter{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bluest",
			Name:      "feature_value",
			Help:      "Last decoded value of a feature field.",
		}, []string{"node", "feature", "field", "unit"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bluest",
			Name:      "feature_samples_total",
			Help:      "Decoded samples per feature.",
		}, []string{"node", "feature"}),
	}
	for _, c := range []prometheus.Collector{e.values, e.samples} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// OnUpdate implements feature.Listener. Fields without a value are left at
// their previous reading.
func (e *sampleExporter) OnUpdate(f *feature.Feature, s feature.Sample) {
	e.samples.WithLabelValues(f.Owner(), f.Name()).Inc()
	for i, field := range s.Fields {
		v := s.Value(i)
		if !v.Available() {
			continue
		}
		e.values.WithLabelValues(f.Owner(), f.Name(), field.Name, field.Unit).Set(v.Float())
	}
}

// serveMetrics exposes reg on addr until ctx is done. It returns once the
// listener is bound so a bad address fails the command.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *logrus.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	groutine.Go(ctx, "metrics-server", func(context.Context) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	})
	groutine.Go(ctx, "metrics-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})

	logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
	return ln.Addr(), nil
}
