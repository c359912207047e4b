package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const ServiceName = "apkban"

// Telemetry owns the metrics endpoint and the global tracer provider.
type Telemetry struct {
	listen   string
	gatherer prometheus.Gatherer

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	provider *sdktrace.TracerProvider
	logger   *log.Entry
}

// New serves gatherer on listen; an empty listen address only installs tracing.
func New(listen string, gatherer prometheus.Gatherer) *Telemetry {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Telemetry{
		listen:   listen,
		gatherer: gatherer,
		logger:   log.WithField("component", "observability"),
	}
}

func (t *Telemetry) Name() string {
	return "observability"
}

func (t *Telemetry) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
	otel.SetTracerProvider(t.provider)

	if t.listen == "" {
		t.logger.Info("metrics endpoint disabled")
		return nil
	}

	listener, err := net.Listen("tcp", t.listen)
	if err != nil {
		return fmt.Errorf("listen metrics on %s: %w", t.listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.addr = listener.Addr()

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.WithError(err).Error("metrics server failed")
		}
	}(t.server)
	t.logger.WithField("addr", t.addr.String()).Info("metrics endpoint listening")
	return nil
}

// Addr is the bound metrics address, nil while the endpoint is not serving.
func (t *Telemetry) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

func (t *Telemetry) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs error
	if t.server != nil {
		errs = errors.Join(errs, t.server.Shutdown(ctx))
		t.server = nil
		t.addr = nil
	}
	if t.provider != nil {
		errs = errors.Join(errs, t.provider.Shutdown(ctx))
		t.provider = nil
	}
	return errs
}
