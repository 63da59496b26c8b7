package id

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
)

type contextKey struct{}

func New() string {
	return uuid.NewString()
}

// WithRequestID stores the request id used to correlate relay log lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// ArtifactKey returns a unique object key under prefix with an extension
// derived from the MIME type.
func ArtifactKey(prefix, mimeType string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "input"
	}
	return path.Join(prefix, uuid.NewString()+extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
