// Package logging provides structured logging for roadmapd.
//
// Logger wraps Zap with context-aware methods. Correlation fields carried on
// the context (org, pipeline run, HTTP request, OpenTelemetry span) are added
// to every entry automatically:
//
//	ctx = logging.WithOrgID(ctx, 42)
//	ctx = logging.WithRunID(ctx, run.ID.String())
//	logger.Info(ctx, "extraction finished", zap.Int("entities", n))
//
// produces
//
//	{"ts":"...","level":"info","msg":"extraction finished","org_id":42,"run_id":"...","entities":3}
//
// Sensitive keys (api_key, authorization, ...) and values matching
// configured patterns are redacted by the encoder. Entries below error level
// are sampled when sampling is enabled; errors are never sampled.
package logging
