package slogx

import (
	"context"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/idx"
)

// Operation attaches an op name and a fresh op_id to the context logger and
// returns a finish func that logs the outcome and duration. Pass the
// operation's final error to finish; nil logs at debug, anything else at warn.
//
//	ctx, done := slogx.Operation(ctx, "login")
//	defer func() { done(err) }()
func Operation(ctx context.Context, name string, attrs ...any) (context.Context, func(error)) {
	start := time.Now()

	logger := FromContext(ctx).With(append([]any{"op", name, "op_id", idx.New().String()}, attrs...)...)
	ctx = WithContext(ctx, logger)

	return ctx, func(err error) {
		duration := time.Since(start).Milliseconds()
		if err == nil {
			logger.DebugContext(ctx, "operation", "outcome", "ok", "duration_ms", duration)
			return
		}
		logger.WarnContext(ctx, "operation",
			"outcome", "error",
			"error", err.Error(),
			"duration_ms", duration,
		)
	}
}
