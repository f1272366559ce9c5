package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config contains tracing configuration
type Config struct {
	ServiceName    string        `yaml:"service_name" json:"service_name" mapstructure:"service_name" toml:"service_name"`
	ServiceVersion string        `yaml:"service_version" json:"service_version" mapstructure:"service_version" toml:"service_version"`
	Environment    string        `yaml:"environment" json:"environment" mapstructure:"environment" toml:"environment"`
	SamplingRate   float64       `yaml:"sampling_rate" json:"sampling_rate" mapstructure:"sampling_rate" toml:"sampling_rate"`
	Exporter       string        `yaml:"exporter" json:"exporter" mapstructure:"exporter" toml:"exporter"` // "stdout" or "none"
	PrettyPrint    bool          `yaml:"pretty_print" json:"pretty_print" mapstructure:"pretty_print" toml:"pretty_print"`
	BatchTimeout   time.Duration `yaml:"batch_timeout" json:"batch_timeout" mapstructure:"batch_timeout" toml:"batch_timeout"`

	// Writer receives stdout exports; nil means os.Stdout
	Writer io.Writer `yaml:"-" json:"-" mapstructure:"-" toml:"-"`
}

// DefaultConfig returns tracing disabled
func DefaultConfig() Config {
	return Config{
		ServiceName:    "syncpool",
		ServiceVersion: "dev",
		Environment:    getEnv("ENVIRONMENT", "development"),
		SamplingRate:   0.1,
		Exporter:       getEnv("SYNCPOOL_TRACING_EXPORTER", "none"),
		BatchTimeout:   5 * time.Second,
	}
}

// Initialize installs a tracer provider built from cfg, replacing any previous one.
// The "none" exporter leaves the no-op global tracer in place.
func Initialize(cfg Config) error {
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return nil
	}
	if cfg.Exporter != "stdout" {
		return fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exportOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		exportOpts = append(exportOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exportOpts...)
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)

	mu.Lock()
	old := provider
	provider = tp
	tracer = tp.Tracer(instrumentationName)
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if old != nil {
		_ = old.Shutdown(context.Background())
	}
	return nil
}

// Shutdown flushes and stops the installed provider. Spans started afterwards are dropped.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	tracer = otel.Tracer(instrumentationName)
	mu.Unlock()

	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
