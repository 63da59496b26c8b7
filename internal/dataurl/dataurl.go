// Package dataurl converts between raw image bytes and the base64 data URIs
// carried in JSON bodies.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrMalformed = errors.New("malformed data url")

// Encode returns a data URI for data. An empty mimeType is sniffed.
func Encode(mimeType string, data []byte) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Decode accepts a data URI or bare base64 text. The returned MIME type is
// the declared one when present and sniffed otherwise.
func Decode(text string) ([]byte, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", fmt.Errorf("%w: empty", ErrMalformed)
	}

	declared := ""
	payload := text
	if strings.HasPrefix(text, "data:") {
		header, body, ok := strings.Cut(text, ",")
		if !ok {
			return nil, "", fmt.Errorf("%w: missing comma", ErrMalformed)
		}
		meta := strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("%w: only base64 data urls are supported", ErrMalformed)
		}
		declared = strings.TrimSuffix(meta, ";base64")
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = declared[:i]
		}
		payload = body
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: no data", ErrMalformed)
	}

	mimeType := strings.ToLower(strings.TrimSpace(declared))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// IsDataURL reports whether ref is an inline data URI rather than a link.
func IsDataURL(ref string) bool {
	return strings.HasPrefix(strings.TrimSpace(ref), "data:")
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)

	if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return data, nil
	}
	if data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(payload)
}
