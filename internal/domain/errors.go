package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidImage     = errors.New("invalid image payload")
	ErrProviderRejected = errors.New("provider rejected the image")
	ErrNoImageGenerated = errors.New("provider returned no image")
	ErrProviderFailure  = errors.New("provider failure")
	ErrRelayBusy        = errors.New("relay is at capacity")
	ErrTransport        = errors.New("relay unreachable")
)

type Category string

const (
	CategoryInput     Category = "input"
	CategoryRejected  Category = "rejected"
	CategoryFailure   Category = "failure"
	CategoryBusy      Category = "busy"
	CategoryTransport Category = "transport"
)

const (
	MessageMissingImage = "No image was received."
	MessageInvalidImage = "The uploaded file is not a valid image."
	MessageRejected     = "The image was blocked by the safety filters. Try a different photo."
	MessageNoImage      = "Could not transform the image. Try another photo with better lighting."
	MessageFailure      = "Error processing the image."
	MessageBusy         = "The server is busy. Try again in a moment."
	MessageTransport    = "Could not connect to the server. Is it running?"
	MessageRateLimited  = "Too many requests. Wait a moment and try again."
	MessageTooLarge     = "The image is too large."
)

// Classify maps an error to the category the user sees. Unknown errors are
// provider failures.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidImage):
		return CategoryInput
	case errors.Is(err, ErrProviderRejected):
		return CategoryRejected
	case errors.Is(err, ErrRelayBusy):
		return CategoryBusy
	case errors.Is(err, ErrTransport):
		return CategoryTransport
	default:
		return CategoryFailure
	}
}

func MessageFor(err error) string {
	switch Classify(err) {
	case CategoryInput:
		if errors.Is(err, ErrMissingImage) {
			return MessageMissingImage
		}
		return MessageInvalidImage
	case CategoryRejected:
		return MessageRejected
	case CategoryBusy:
		return MessageBusy
	case CategoryTransport:
		return MessageTransport
	}
	if errors.Is(err, ErrNoImageGenerated) {
		return MessageNoImage
	}
	return MessageFailure
}

// StatusFor is the HTTP status the relay answers with for err.
func StatusFor(err error) int {
	switch Classify(err) {
	case CategoryInput:
		return http.StatusBadRequest
	case CategoryBusy:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
