package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/rootedhq/rooted/backend/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	completionLatency  *promreg.HistogramVec
	tokensCounter      *promreg.CounterVec
	usageEventsCounter *promreg.CounterVec
	treesCounter       promreg.Counter
	donatedCounter     promreg.Counter
	repairsCounter     *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("rooted-backend"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "rooted",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "rooted",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		completionLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "rooted",
				Name:      "completion_request_duration_seconds",
				Help:      "Duration of upstream completion requests.",
				Buckets:   latencyBuckets,
			},
			[]string{"model", "status"},
		)
		tokenCounter := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "rooted",
				Name:      "tokens_total",
				Help:      "Total prompt/completion tokens accounted.",
			},
			[]string{"model", "type"},
		)
		usageEvents := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "rooted",
				Name:      "usage_events_total",
				Help:      "Usage events recorded in the ledger.",
			},
			[]string{"model"},
		)
		trees := promreg.NewCounter(
			promreg.CounterOpts{
				Namespace: "rooted",
				Name:      "trees_credited_total",
				Help:      "Trees credited across all users.",
			},
		)
		donated := promreg.NewCounter(
			promreg.CounterOpts{
				Namespace: "rooted",
				Name:      "donated_usd_total",
				Help:      "Donation dollars accrued across all users.",
			},
		)
		repairs := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "rooted",
				Name:      "ledger_repairs_total",
				Help:      "Aggregates rebuilt by the reconciliation sweep.",
			},
			[]string{"scope"},
		)
		collectors := []promreg.Collector{
			httpRequests, httpLatency, completionLatency,
			tokenCounter, usageEvents, trees, donated, repairs,
		}
		for _, collector := range collectors {
			if err := registry.Register(collector); err != nil {
				return nil, err
			}
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.completionLatency = completionLatency
		provider.tokensCounter = tokenCounter
		provider.usageEventsCounter = usageEvents
		provider.treesCounter = trees
		provider.donatedCounter = donated
		provider.repairsCounter = repairs
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// RecordCompletion observes one upstream completion round trip.
func (p *Provider) RecordCompletion(model, status string, duration time.Duration) {
	if p == nil || p.completionLatency == nil {
		return
	}
	p.completionLatency.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordUsageEvent counts one recorded ledger event with its token and
// impact figures.
func (p *Provider) RecordUsageEvent(model string, promptTokens, completionTokens int64, trees, donated float64) {
	if p == nil {
		return
	}
	if p.usageEventsCounter != nil {
		p.usageEventsCounter.WithLabelValues(model).Inc()
	}
	if p.tokensCounter != nil {
		if promptTokens > 0 {
			p.tokensCounter.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		}
		if completionTokens > 0 {
			p.tokensCounter.WithLabelValues(model, "completion").Add(float64(completionTokens))
		}
	}
	if p.treesCounter != nil && trees > 0 {
		p.treesCounter.Add(trees)
	}
	if p.donatedCounter != nil && donated > 0 {
		p.donatedCounter.Add(donated)
	}
}

// RecordLedgerRepair counts one aggregate rebuilt by the sweep.
func (p *Provider) RecordLedgerRepair(scope string) {
	if p == nil || p.repairsCounter == nil {
		return
	}
	p.repairsCounter.WithLabelValues(scope).Inc()
}
