package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = WithCallID(ctx, "call-123")
	ctx = WithCallSID(ctx, "CA456")
	ctx = WithStreamSID(ctx, "MZ789")
	ctx = WithComponent(ctx, "bridge")
	ctx = WithProvider(ctx, "deepgram")
	ctx = WithEnvironment(ctx, "production")

	checks := map[contextKey]string{
		ContextKeyCallID:      "call-123",
		ContextKeyCallSID:     "CA456",
		ContextKeyStreamSID:   "MZ789",
		ContextKeyComponent:   "bridge",
		ContextKeyProvider:    "deepgram",
		ContextKeyEnvironment: "production",
	}
	for key, want := range checks {
		if v := ctx.Value(key); v != want {
			t.Errorf("%s: expected %s, got %v", key, want, v)
		}
	}
}

func TestWithLoggingContext(t *testing.T) {
	fields := &LoggingFields{
		CallID:    "call-1",
		StreamSID: "MZ1",
		Component: "orchestrator",
	}
	ctx := WithLoggingContext(context.Background(), fields)

	got := ExtractLoggingFields(ctx)
	if got.CallID != "call-1" || got.StreamSID != "MZ1" || got.Component != "orchestrator" {
		t.Errorf("ExtractLoggingFields() = %+v", got)
	}
	if got.CallSID != "" || got.Provider != "" {
		t.Errorf("unset fields should stay empty: %+v", got)
	}
}

func TestWithLoggingContext_Nil(t *testing.T) {
	ctx := context.Background()
	if WithLoggingContext(ctx, nil) != ctx {
		t.Error("nil fields should return the same context")
	}
}

func TestExtractLoggingFields_EmptyContext(t *testing.T) {
	if got := ExtractLoggingFields(context.Background()); got != (LoggingFields{}) {
		t.Errorf("expected empty fields, got %+v", got)
	}
}

func TestContextHandler_ExtractsContextFields(t *testing.T) {
	var buf bytes.Buffer
	textHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewContextHandler(textHandler))

	ctx := WithCallID(context.Background(), "call-123")
	ctx = WithStreamSID(ctx, "MZ1")
	logger.InfoContext(ctx, "test message", "custom_field", "custom_value")

	output := buf.String()
	for _, want := range []string{"call_id=call-123", "stream_sid=MZ1", "custom_field=custom_value"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %s in output, got: %s", want, output)
		}
	}
}

func TestContextHandler_WithCommonFields(t *testing.T) {
	var buf bytes.Buffer
	textHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewContextHandler(textHandler,
		slog.String("service", "callkit"),
		slog.String("version", "1.0.0"),
	))

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "service=callkit") {
		t.Errorf("Expected service in output, got: %s", output)
	}
	if !strings.Contains(output, "version=1.0.0") {
		t.Errorf("Expected version in output, got: %s", output)
	}
}

func TestContextHandler_EmptyContextValues(t *testing.T) {
	var buf bytes.Buffer
	textHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewContextHandler(textHandler))

	logger.InfoContext(WithCallID(context.Background(), ""), "test message")

	if strings.Contains(buf.String(), "call_id") {
		t.Errorf("empty values should be skipped, got: %s", buf.String())
	}
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	textHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewContextHandler(textHandler)

	withAttrs := handler.WithAttrs([]slog.Attr{slog.String("component", "pacer")})
	if _, ok := withAttrs.(*ContextHandler); !ok {
		t.Fatal("WithAttrs should return a *ContextHandler")
	}
	slog.New(withAttrs).Info("attrs")
	if !strings.Contains(buf.String(), "component=pacer") {
		t.Errorf("Expected attr in output, got: %s", buf.String())
	}

	grouped := handler.WithGroup("call")
	if _, ok := grouped.(*ContextHandler); !ok {
		t.Fatal("WithGroup should return a *ContextHandler")
	}
	slog.New(grouped).Info("grouped", "state", "listen")
	if !strings.Contains(buf.String(), "call.state=listen") {
		t.Errorf("Expected grouped attr in output, got: %s", buf.String())
	}
}

func TestContextHandler_Enabled(t *testing.T) {
	textHandler := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewContextHandler(textHandler)
	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelInfo) {
		t.Error("Info should not be enabled at warn level")
	}
	if !h.Enabled(ctx, slog.LevelError) {
		t.Error("Error should be enabled")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", slog.LevelDebug - 4},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := ParseLevel(tt.input); result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestContextHandler_Unwrap(t *testing.T) {
	textHandler := slog.NewTextHandler(&bytes.Buffer{}, nil)
	if NewContextHandler(textHandler).Unwrap() != textHandler {
		t.Error("Unwrap should return the inner handler")
	}
}
