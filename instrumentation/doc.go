// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the oidc-core library.
//
// Observability covers three layers:
//   - HTTP: request counts and durations per protocol endpoint
//   - Pipeline: validations, rejections, redemptions, rotations, extensions
//     and introspection decisions in the request core
//   - Managers: operation counts, durations and entity-count gauges for the
//     backing stores
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-authorization-server",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// When instrumentation is disabled the no-op providers are used and there is
// no overhead.
//
// # Security Considerations
//
// Never record actual token values, codes or client secrets in traces or
// metrics. Only metadata is recorded: token types, statuses, endpoints,
// durations, error codes. Traces are persisted and replicated widely, so a
// leaked credential in a span attribute outlives the token itself.
package instrumentation
