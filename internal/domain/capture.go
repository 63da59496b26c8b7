package domain

import (
	"net/http"
	"strings"
)

// Capture is an image the user picked, held in memory until it is sent.
type Capture struct {
	Name     string
	MIMEType string
	Data     []byte
}

func (c Capture) Empty() bool {
	return len(c.Data) == 0
}

// ContentType returns the declared MIME type, or a sniffed one when the
// declared type is missing or not an image.
func (c Capture) ContentType() string {
	declared := strings.ToLower(strings.TrimSpace(c.MIMEType))
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return http.DetectContentType(c.Data)
}

// Step is the active screen of the booth workflow.
type Step int

const (
	StepCapture Step = iota
	StepProcessing
	StepResult
)

func (s Step) String() string {
	switch s {
	case StepCapture:
		return "capture"
	case StepProcessing:
		return "processing"
	case StepResult:
		return "result"
	default:
		return "unknown"
	}
}
