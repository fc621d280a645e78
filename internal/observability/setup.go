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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

const namespace = "sophnet_gateway"

const tracerName = "github.com/ncecere/sophnet_gateway"

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	apiLatencyHist     *promreg.HistogramVec
	apiTokensCounter   *promreg.CounterVec
	pollCounter        *promreg.CounterVec
	speechChars        *promreg.CounterVec
	costCounter        *promreg.CounterVec
	cacheCounter       *promreg.CounterVec
	routeHealth        *promreg.GaugeVec
}

// Setup wires tracing and metrics. It returns nil when both are disabled;
// every method tolerates a nil receiver.
func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "sophnet-gateway"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
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

		if err := provider.registerCollectors(registry); err != nil {
			return nil, err
		}
	}

	return provider, nil
}

func (p *Provider) registerCollectors(registry promreg.Registerer) error {
	latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60, 300}

	p.httpRequestCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	p.httpRequestLatency = promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   latencyBuckets,
		},
		[]string{"method", "route", "status"},
	)
	p.apiLatencyHist = promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of Sophnet requests, including transcription polling.",
			Buckets:   latencyBuckets,
		},
		[]string{"capability", "model", "status"},
	)
	p.apiTokensCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Prompt and completion tokens reported by Sophnet.",
		},
		[]string{"key", "model", "type"},
	)
	p.pollCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_polls_total",
			Help:      "Transcription status requests by observed job status.",
		},
		[]string{"alias", "status"},
	)
	p.speechChars = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "speech_characters_total",
			Help:      "Characters submitted for speech synthesis.",
		},
		[]string{"key", "model"},
	)
	p.costCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "cost_rmb_total",
			Help:      "Estimated upstream spend in RMB.",
		},
		[]string{"key", "capability"},
	)
	p.cacheCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Embedding and speech cache lookups by result.",
		},
		[]string{"cache", "result"},
	)
	p.routeHealth = promreg.NewGaugeVec(
		promreg.GaugeOpts{
			Namespace: namespace,
			Name:      "route_healthy",
			Help:      "1 when the last health probe for an alias succeeded.",
		},
		[]string{"alias"},
	)

	for _, c := range []promreg.Collector{
		p.httpRequestCounter, p.httpRequestLatency, p.apiLatencyHist, p.apiTokensCounter,
		p.pollCounter, p.speechChars, p.costCounter, p.cacheCounter, p.routeHealth,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
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

// StartSpan opens a span on the global tracer. It is a no-op span when
// tracing is disabled.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
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

func (p *Provider) RecordAPILatency(capability, model string, status int, duration time.Duration) {
	if p == nil || p.apiLatencyHist == nil {
		return
	}
	p.apiLatencyHist.WithLabelValues(capability, model, strconv.Itoa(status)).Observe(duration.Seconds())
}

func (p *Provider) RecordTokens(key, model string, promptTokens, completionTokens int64) {
	if p == nil || p.apiTokensCounter == nil {
		return
	}
	if promptTokens > 0 {
		p.apiTokensCounter.WithLabelValues(key, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		p.apiTokensCounter.WithLabelValues(key, model, "completion").Add(float64(completionTokens))
	}
}

func (p *Provider) RecordPoll(alias, status string, _ int) {
	if p == nil || p.pollCounter == nil {
		return
	}
	p.pollCounter.WithLabelValues(alias, status).Inc()
}

func (p *Provider) RecordSpeechCharacters(key, model string, chars int) {
	if p == nil || p.speechChars == nil || chars <= 0 {
		return
	}
	p.speechChars.WithLabelValues(key, model).Add(float64(chars))
}

func (p *Provider) RecordCost(key, capability string, rmb float64) {
	if p == nil || p.costCounter == nil || rmb <= 0 {
		return
	}
	p.costCounter.WithLabelValues(key, capability).Add(rmb)
}

func (p *Provider) RecordCacheLookup(cache string, hit bool) {
	if p == nil || p.cacheCounter == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheCounter.WithLabelValues(cache, result).Inc()
}

func (p *Provider) RecordRouteHealth(alias string, healthy bool) {
	if p == nil || p.routeHealth == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	p.routeHealth.WithLabelValues(alias).Set(v)
}
