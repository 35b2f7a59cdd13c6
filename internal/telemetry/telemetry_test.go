package telemetry_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/telemetry"
)

func TestNewNopProvider(t *testing.T) {
	p := telemetry.NewNopProvider()

	if p.TracerProvider == nil {
		t.Fatal("TracerProvider is nil")
	}
	if p.MeterProvider == nil {
		t.Fatal("MeterProvider is nil")
	}
	if p.LoggerProvider == nil {
		t.Fatal("LoggerProvider is nil")
	}
}

func TestNopProvider_Shutdown(t *testing.T) {
	p := telemetry.NewNopProvider()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	if _, err := telemetry.Setup(context.Background(), config.TelemetryConfig{ServiceName: "scrimbot"}); err == nil {
		t.Fatal("Setup() without endpoint succeeded, want error")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.LogConfig
		wantSub  string
		wantSkip bool
	}{
		{name: "text", cfg: config.LogConfig{Level: "info", Format: "text"}, wantSub: "msg=hello"},
		{name: "json", cfg: config.LogConfig{Level: "info", Format: "json"}, wantSub: `"msg":"hello"`},
		{name: "below level", cfg: config.LogConfig{Level: "error", Format: "text"}, wantSkip: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := telemetry.NewNopProvider().NewLogger(tt.cfg, &buf)
			logger.Info("hello", slog.String("team", "alpha"))

			out := buf.String()
			if tt.wantSkip {
				if out != "" {
					t.Errorf("output = %q, want nothing", out)
				}
				return
			}
			if !strings.Contains(out, tt.wantSub) || !strings.Contains(out, "alpha") {
				t.Errorf("output = %q, want %q and the attribute", out, tt.wantSub)
			}
		})
	}
}

func TestLogWithTrace_NoSpan(t *testing.T) {
	logger := slog.Default()
	if got := telemetry.LogWithTrace(context.Background(), logger); got != logger {
		t.Error("LogWithTrace() without a span should return the same logger")
	}
}

func TestLogWithTrace_WithSpan(t *testing.T) {
	p := telemetry.NewNopProvider()
	ctx, span := p.TracerProvider.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	telemetry.LogWithTrace(ctx, logger).Info("traced")

	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		t.Skip("sdk tracer produced an invalid span context")
	}
	if !strings.Contains(buf.String(), sc.TraceID().String()) {
		t.Errorf("output = %q, want trace id %s", buf.String(), sc.TraceID())
	}
}
