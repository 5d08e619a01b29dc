// Package otelx installs the process-wide OpenTelemetry tracer provider.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/linnemanlabs-cv/internal/version"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

const defaultDialTimeout = 3 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string

	// bounds the initial exporter dial
	DialTimeout time.Duration
}

// ShutdownFunc flushes buffered spans and releases the exporter.
type ShutdownFunc func(context.Context) error

// serviceName is "<service>.<component>", falling back to the app name.
func (o Options) serviceName() string {
	svc := o.Service
	if svc == "" {
		svc = version.AppName
	}
	if o.Component == "" {
		return svc
	}
	return svc + "." + o.Component
}

func (o Options) sampler() sdktrace.Sampler {
	ratio := min(max(o.Sample, 0), 1)
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func (o Options) exporterOptions() []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.serviceName() + "/" + o.Version)),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func (o Options) resourceAttrs() []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(o.serviceName())}
	if o.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(o.Version))
	}
	return attrs
}

func installPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

// Init installs the global tracer provider and W3C propagators. Disabled
// tracing still gets an exporter-less provider so request logs carry
// trace and span ids.
func Init(ctx context.Context, o Options) (ShutdownFunc, error) {
	installPropagator()
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otlp endpoint is required when tracing is enabled")
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.DialTimeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, o.exporterOptions()...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter %s", o.Endpoint)
	}

	// detector errors are partial; keep whatever was detected
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(o.resourceAttrs()...),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(o.sampler()),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
