package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for call correlation fields. Values stored under these keys
// are added to every record logged with the context.
const (
	// ContextKeyCallID identifies the call inside this service.
	ContextKeyCallID contextKey = "call_id"

	// ContextKeyCallSID is the telephony provider's call identifier.
	ContextKeyCallSID contextKey = "call_sid"

	// ContextKeyStreamSID is the telephony provider's media stream identifier.
	ContextKeyStreamSID contextKey = "stream_sid"

	// ContextKeyComponent identifies the pipeline component (e.g. "bridge", "recognizer").
	ContextKeyComponent contextKey = "component"

	// ContextKeyProvider identifies the collaborator vendor.
	ContextKeyProvider contextKey = "provider"

	// ContextKeyEnvironment identifies the deployment environment.
	ContextKeyEnvironment contextKey = "environment"
)

var allContextKeys = []contextKey{
	ContextKeyCallID,
	ContextKeyCallSID,
	ContextKeyStreamSID,
	ContextKeyComponent,
	ContextKeyProvider,
	ContextKeyEnvironment,
}

// WithCallID returns a new context with the call ID set.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallID, callID)
}

// WithCallSID returns a new context with the provider call SID set.
func WithCallSID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, ContextKeyCallSID, sid)
}

// WithStreamSID returns a new context with the media stream SID set.
func WithStreamSID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, ContextKeyStreamSID, sid)
}

// WithComponent returns a new context with the component name set.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ContextKeyComponent, component)
}

// WithProvider returns a new context with the provider name set.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ContextKeyProvider, provider)
}

// WithEnvironment returns a new context with the environment set.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, ContextKeyEnvironment, environment)
}

// LoggingFields holds all standard logging context fields.
type LoggingFields struct {
	CallID      string
	CallSID     string
	StreamSID   string
	Component   string
	Provider    string
	Environment string
}

// WithLoggingContext returns a new context with every non-empty field set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.CallID != "" {
		ctx = WithCallID(ctx, fields.CallID)
	}
	if fields.CallSID != "" {
		ctx = WithCallSID(ctx, fields.CallSID)
	}
	if fields.StreamSID != "" {
		ctx = WithStreamSID(ctx, fields.StreamSID)
	}
	if fields.Component != "" {
		ctx = WithComponent(ctx, fields.Component)
	}
	if fields.Provider != "" {
		ctx = WithProvider(ctx, fields.Provider)
	}
	if fields.Environment != "" {
		ctx = WithEnvironment(ctx, fields.Environment)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	str := func(k contextKey) string {
		s, _ := ctx.Value(k).(string)
		return s
	}
	return LoggingFields{
		CallID:      str(ContextKeyCallID),
		CallSID:     str(ContextKeyCallSID),
		StreamSID:   str(ContextKeyStreamSID),
		Component:   str(ContextKeyComponent),
		Provider:    str(ContextKeyProvider),
		Environment: str(ContextKeyEnvironment),
	}
}
