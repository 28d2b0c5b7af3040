// Package logging provides structured logging for truthd on top of zap.
//
// Every method takes a context. Correlation fields found on the context
// (OpenTelemetry trace and span IDs, the HTTP request ID, and the PR or turn
// being processed) are prepended to the fields of each entry:
//
//	ctx = logging.WithPRID(ctx, prID)
//	logger.Info(ctx, "conflicts evaluated", zap.Int("conflicts", n))
//	// {"level":"info","msg":"conflicts evaluated","pr.id":42,"conflicts":1,...}
//
// Output goes to stdout (JSON or console) and optionally to an OpenTelemetry
// log provider through the otelzap bridge. Values under sensitive keys and
// strings that look like credentials are redacted by the encoder.
//
// Tests use NewTestLogger, which records entries in memory:
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "pr built")
package logging
