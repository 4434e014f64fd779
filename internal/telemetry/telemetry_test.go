package telemetry_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/zhouzirui/finpulse/backend/internal/telemetry"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := telemetry.ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := telemetry.ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestInitLoggerWritesJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := t.TempDir()
	logger, closer, err := telemetry.InitLogger(telemetry.LoggerOptions{Dir: dir, File: "test.log", Level: "debug"})
	if err != nil {
		t.Fatalf("InitLogger err: %v", err)
	}
	logger.Debug("hello", "key", "a@b.com")
	if err := closer.Close(); err != nil {
		t.Fatalf("close err: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("read log err: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"hello"`) || !strings.Contains(string(raw), `"key":"a@b.com"`) {
		t.Fatalf("unexpected log output %s", raw)
	}
}

func TestInitTelemetryInstallsProviders(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}()

	dir := t.TempDir()
	cleanup, err := telemetry.InitTelemetry(context.Background(), dir, "finpulse-test")
	if err != nil {
		t.Fatalf("InitTelemetry err: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "unit")
	span.End()
	cleanup()

	raw, err := os.ReadFile(filepath.Join(dir, "finpulse-test_traces.log"))
	if err != nil {
		t.Fatalf("read traces err: %v", err)
	}
	if !strings.Contains(string(raw), `"Name": "unit"`) {
		t.Fatalf("span not exported: %s", raw)
	}
}
