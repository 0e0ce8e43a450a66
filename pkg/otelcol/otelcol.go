package otelcol

import (
	"context"

	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(ProvideTracing),
	fx.Invoke(func(*trace.TracerProvider) {}),
)

func serviceResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

// ProvideTracing installs the global tracer provider. Without OTEL.ADDR spans
// are created for log correlation but never exported.
func ProvideTracing(lc fx.Lifecycle, cfg *config.Config) (*trace.TracerProvider, error) {
	res := trace.WithResource(serviceResource(cfg))

	var tp *trace.TracerProvider
	switch {
	case cfg.Otel.Addr == "":
		tp = trace.NewTracerProvider(res)
	case cfg.Otel.Protocol == "http":
		exp, err := exporters.ProvideHttp(cfg)
		if err != nil {
			return nil, err
		}
		tp = ProvideTrace(exp, res)
	default:
		exp, err := exporters.ProvideGrpc(cfg)
		if err != nil {
			return nil, err
		}
		tp = ProvideTrace(exp, res)
	}

	otel.SetTracerProvider(tp)
	zap.L().Info("tracing configured", zap.String("otel_addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp, nil
}
