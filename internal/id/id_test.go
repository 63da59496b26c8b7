package id

import (
	"context"
	"strings"
	"testing"
)

func TestArtifactKeyIsUniqueAndPrefixed(t *testing.T) {
	first := ArtifactKey("/staging/", "image/png")
	second := ArtifactKey("/staging/", "image/png")

	if first == second {
		t.Fatalf("expected unique keys, got %s twice", first)
	}
	if !strings.HasPrefix(first, "staging/") || !strings.HasSuffix(first, ".png") {
		t.Fatalf("expected staging/<uuid>.png, got %s", first)
	}
	if got := ArtifactKey("", "image/jpeg"); !strings.HasPrefix(got, "input/") || !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("expected input/<uuid>.jpg, got %s", got)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
