// Package logging wraps zap with context-aware methods.
//
// Every Logger method takes a context and appends the correlation fields
// found in it: trace and span ids from OpenTelemetry, the indexing run id,
// the chat user and the HTTP request id.
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "run finished", zap.Int("stored", n))
//
// Entries go to a JSON or console sink and, when a LoggerProvider is given,
// to OpenTelemetry through the otelzap bridge. Entries below error level are
// sampled. The console sink masks configured keys (api_key, authorization)
// and value patterns such as OpenAI keys before anything is written.
//
// Tests use NewTestLogger and assert on the recorded entries.
package logging
