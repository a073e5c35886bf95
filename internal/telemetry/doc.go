// Package telemetry sets up OpenTelemetry tracing and metrics export for
// ragchat.
//
// Packages create their tracers and meters from the otel globals at init, so
// New only has to install providers:
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporters are OTLP over gRPC or HTTP. When an exporter cannot be created
// the instance reports itself degraded through Health and the process keeps
// running on no-op providers.
//
// Tests use TestTelemetry, which records spans in memory and collects
// metrics through a ManualReader:
//
//	tt := telemetry.NewTestTelemetry()
//	restore := tt.Install()
//	defer restore()
//	// exercise code
//	tt.AssertSpanExists(t, "Orchestrator.Run")
package telemetry
