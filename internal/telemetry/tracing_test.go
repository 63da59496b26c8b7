package telemetry

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/dunamismax/vintagebooth/internal/config"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.TracingConfig{Exporter: "none"}, "relay", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := SetupTracing(context.Background(), config.TracingConfig{Exporter: "zipkin"}, "relay", nil); err == nil {
		t.Fatal("expected unsupported exporter error")
	}
	if _, err := SetupTracing(context.Background(), config.TracingConfig{Exporter: "otlp"}, "relay", nil); err == nil {
		t.Fatal("expected otlp without endpoint to fail")
	}
}

func TestSetupTracingStdoutExportsSpans(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := setupTracing(context.Background(), config.TracingConfig{ServiceName: "vintagebooth", Exporter: "stdout"}, "relay", nil, &out)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "relay.transform")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(out.String(), "relay.transform") {
		t.Fatalf("expected exported span, got %q", out.String())
	}
	if !strings.Contains(out.String(), "vintagebooth-relay") {
		t.Fatalf("expected service name in resource, got %q", out.String())
	}
}
