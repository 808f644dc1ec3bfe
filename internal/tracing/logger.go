package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the tracing fields found in ctx to baseLogger.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return baseLogger
	}

	lc := baseLogger.With()
	for _, f := range logFields {
		if v := value(ctx, f.key); v != "" {
			lc = lc.Str(f.field, v)
		}
	}
	return lc.Logger()
}
