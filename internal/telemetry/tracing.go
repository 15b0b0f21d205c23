package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/gamerank/internal/logging"
)

const TracerName = "github.com/joelkehle/gamerank"

type TracingConfig struct {
	ServiceName string
	// Endpoint is a full OTLP/HTTP URL such as http://collector:4318. Empty
	// keeps spans in-process only.
	Endpoint string
}

// SetupTracing installs the global tracer provider and returns its shutdown.
func SetupTracing(ctx context.Context, cfg TracingConfig, log *logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNop(log)
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "gamerank"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
		log.Info("telemetry tracing_enabled", "service", name, "endpoint", endpoint)
	} else {
		log.Debug("telemetry tracing_local", "service", name)
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func Tracer() trace.Tracer { return otel.Tracer(TracerName) }
