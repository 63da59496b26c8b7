package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/filter"
)

// OpenAI edits the capture with the images/edits endpoint.
type OpenAI struct {
	client         *openai.Client
	logger         *log.Logger
	model          string
	size           string
	responseFormat string
}

func NewOpenAI(cfg config.OpenAIConfig, httpClient *http.Client, logger *log.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai provider requires OPENAI_API_KEY")
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[provider] ", log.LstdFlags|log.Lmsgprefix)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.BaseURL = strings.TrimRight(base, "/")
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.CreateImageModelDallE2
	}
	size := strings.TrimSpace(cfg.Size)
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	format := strings.TrimSpace(cfg.ResponseFormat)
	if format == "" {
		format = openai.CreateImageResponseFormatB64JSON
	}

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientConfig),
		logger:         logger,
		model:          model,
		size:           size,
		responseFormat: format,
	}, nil
}

func (p *OpenAI) Name() string {
	return NameOpenAI
}

func (p *OpenAI) Transform(ctx context.Context, req Request) (Result, error) {
	file, err := p.writePNG(req.Image)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		file.Close()
		if err := os.Remove(file.Name()); err != nil {
			p.logger.Printf("remove openai upload %s: %v", file.Name(), err)
		}
	}()

	resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          file,
		Prompt:         req.Prompt,
		Model:          p.model,
		N:              1,
		Size:           p.size,
		ResponseFormat: p.responseFormat,
	})
	if err != nil {
		return Result{}, openAIError(err)
	}
	if len(resp.Data) == 0 {
		return Result{}, fmt.Errorf("openai returned no images: %w", domain.ErrNoImageGenerated)
	}

	item := resp.Data[0]
	switch {
	case item.B64JSON != "":
		return Result{ImageRef: "data:image/png;base64," + item.B64JSON, MIMEType: "image/png"}, nil
	case item.URL != "":
		return Result{ImageRef: item.URL}, nil
	default:
		return Result{}, fmt.Errorf("openai image has no payload: %w", domain.ErrNoImageGenerated)
	}
}

// writePNG re-encodes the capture as PNG because the edits endpoint accepts
// nothing else.
func (p *OpenAI) writePNG(data []byte) (*os.File, error) {
	img, _, err := filter.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	encoded, err := filter.Encode(img, "png", 0)
	if err != nil {
		return nil, err
	}

	file, err := os.CreateTemp("", "vintagebooth-*.png")
	if err != nil {
		return nil, fmt.Errorf("create openai upload: %w", err)
	}
	if _, err := file.Write(encoded); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("write openai upload: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("rewind openai upload: %w", err)
	}
	return file, nil
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		statusErr := &APIError{Provider: NameOpenAI, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		code := fmt.Sprint(apiErr.Code)
		if code == "content_policy_violation" || LooksRejected(apiErr.Message) {
			return fmt.Errorf("%w: %w", domain.ErrProviderRejected, statusErr)
		}
		return statusErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Provider: NameOpenAI, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("invoke openai: %w", err)
}

var _ Provider = (*OpenAI)(nil)
