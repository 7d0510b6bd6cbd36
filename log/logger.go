package log

import "context"

// Logger is the structured logging interface used across the identity
// core. Context is threaded through so adapters can attach trace ids.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]any)
	Info(ctx context.Context, msg string, fields ...map[string]any)
	Warn(ctx context.Context, msg string, fields ...map[string]any)
	Error(ctx context.Context, msg string, err error, fields ...map[string]any)
	Fatal(ctx context.Context, msg string, err error, fields ...map[string]any)

	// With returns a new logger carrying the given fields on every event.
	With(fields map[string]any) Logger
}
