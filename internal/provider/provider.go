// Package provider adapts external image-transformation services to one
// interface. Exactly one provider is selected at startup.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/domain"
)

const (
	NameImagen    = "imagen"
	NameReplicate = "replicate"
	NameOpenAI    = "openai"
	NameLocal     = "local"
)

// Request carries one decoded capture. SourceURL is set when the relay staged
// a networked copy of Image.
type Request struct {
	RequestID string
	Image     []byte
	MIMEType  string
	SourceURL string
	Prompt    string
}

// Result holds a de-referenceable image: an http(s) URL or a data URI.
type Result struct {
	ImageRef string
	MIMEType string
}

type Provider interface {
	Name() string
	Transform(ctx context.Context, req Request) (Result, error)
}

// Stager is implemented by providers that can only read their input from
// networked storage.
type Stager interface {
	RequiresStaging() bool
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// permanentError marks a failure that must not be retried even when its
// cause is transient, because the provider already started billable work.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsRetryable reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether another attempt could succeed: transport
// errors, per-attempt timeouts, throttling and 5xx answers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrProviderRejected) || errors.Is(err, domain.ErrNoImageGenerated) || errors.Is(err, domain.ErrInvalidImage) {
		return false
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

var rejectionIndicators = []string{
	"safety",
	"blocked",
	"block_reason",
	"filtered",
	"nsfw",
	"content policy",
	"content_policy",
	"responsible ai",
	"prohibited",
}

// LooksRejected matches the block/filter wording providers use when they
// refuse an image on policy grounds.
func LooksRejected(text string) bool {
	text = strings.ToLower(text)
	for _, indicator := range rejectionIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

// New builds the provider named in cfg.
func New(cfg config.ProviderConfig, httpClient *http.Client, logger *log.Logger) (Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case NameImagen:
		return NewImagen(cfg.Imagen, httpClient)
	case NameReplicate:
		return NewReplicate(cfg.Replicate, httpClient)
	case NameOpenAI:
		return NewOpenAI(cfg.OpenAI, httpClient, logger)
	case NameLocal, "":
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}
