package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig configures metric export.
type TelemetryConfig struct {
	// Enabled installs an SDK meter provider with a Prometheus exporter.
	// When false, Metrics records into the global provider.
	Enabled bool
	// Addr serves /metrics when non-empty.
	Addr           string
	ServiceVersion string
}

// Telemetry owns the meter provider behind Metrics and the optional scrape
// endpoint.
type Telemetry struct {
	Metrics *Metrics

	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

func NewTelemetry(cfg TelemetryConfig, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")

	if !cfg.Enabled {
		metrics, err := Default()
		if err != nil {
			return nil, err
		}
		return &Telemetry{Metrics: metrics, logger: logger}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(meterName))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	res, err := resource.New(context.Background(), attrs...)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	metrics, err := NewMetrics(provider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	t := &Telemetry{
		Metrics:  metrics,
		provider: provider,
		registry: registry,
		logger:   logger,
	}
	if cfg.Addr != "" {
		if err := t.serve(cfg.Addr); err != nil {
			_ = provider.Shutdown(context.Background())
			return nil, err
		}
	}
	return t, nil
}

func (t *Telemetry) serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	t.listener = listener
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("metrics endpoint stopped", "error", err)
		}
	}()
	t.logger.Info("serving metrics", "addr", listener.Addr().String())
	return nil
}

// Handler renders the Prometheus exposition. It answers 404 when export is
// disabled.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Addr returns the bound scrape address, or "" when nothing is served.
func (t *Telemetry) Addr() string {
	if t == nil || t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Shutdown stops the scrape endpoint and flushes the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.server != nil {
		errs = append(errs, t.server.Shutdown(ctx))
	}
	if t.provider != nil {
		errs = append(errs, t.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
