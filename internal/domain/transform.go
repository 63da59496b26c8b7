package domain

import (
	"fmt"
	"strings"
)

// TransformRequest is the JSON body accepted by the relay. Image is the
// current field; Imagen and FotoBase64 are kept for older clients.
type TransformRequest struct {
	Image      string `json:"image,omitempty"`
	Imagen     string `json:"imagen,omitempty"`
	FotoBase64 string `json:"fotoBase64,omitempty"`
}

// TransformResult is either a success carrying ImageRef or a failure carrying
// only Message. Build it with Success or Failure.
type TransformResult struct {
	Success  bool   `json:"success"`
	ImageRef string `json:"imageRef,omitempty"`
	Message  string `json:"message"`
}

func Success(imageRef, message string) TransformResult {
	return TransformResult{Success: true, ImageRef: imageRef, Message: message}
}

func Failure(message string) TransformResult {
	return TransformResult{Success: false, Message: message}
}

// Validate accepts any of the image fields as long as every populated one
// carries the same payload.
func (r TransformRequest) Validate() error {
	var payload string
	for _, field := range r.fields() {
		switch {
		case field == "":
		case payload == "":
			payload = field
		case field != payload:
			return ErrAmbiguousImage
		}
	}
	if payload == "" {
		return ErrMissingImage
	}
	return nil
}

// Payload returns the first populated image field, in the order image,
// imagen, fotoBase64.
func (r TransformRequest) Payload() string {
	for _, field := range r.fields() {
		if field != "" {
			return field
		}
	}
	return ""
}

func (r TransformRequest) fields() [3]string {
	return [3]string{
		strings.TrimSpace(r.Image),
		strings.TrimSpace(r.Imagen),
		strings.TrimSpace(r.FotoBase64),
	}
}

var (
	ErrMissingImage   = fmt.Errorf("%w: image is required", ErrInvalidImage)
	ErrAmbiguousImage = fmt.Errorf("%w: image, imagen and fotoBase64 disagree", ErrInvalidImage)
)
