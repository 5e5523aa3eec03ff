// Package telemetry wires OpenTelemetry tracing and metrics for seagent.
//
// Traces and metrics are exported over OTLP (gRPC or HTTP) when the
// observability section of the configuration enables them:
//
//	observability:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling_rate: 1.0
//	  metrics_interval: 15s
//
// Startup code builds a Config from the service configuration:
//
//	tel, err := telemetry.New(ctx, telemetry.FromServiceConfig(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The Prometheus scrape endpoint served over HTTP is independent of OTLP
// export and always available.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
