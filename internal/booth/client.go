package booth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dunamismax/vintagebooth/internal/domain"
)

// RelayClient sends one TransformRequest and returns the relay's answer.
// Errors mean no usable answer arrived.
type RelayClient interface {
	Transform(ctx context.Context, req domain.TransformRequest) (domain.TransformResult, error)
}

// HTTPRelayClient posts to the relay endpoint. It never retries.
type HTTPRelayClient struct {
	endpoint   string
	httpClient *http.Client
}

// relayResponse also reads url_imagen, which older relays sent instead of
// imageRef.
type relayResponse struct {
	Success   bool   `json:"success"`
	ImageRef  string `json:"imageRef"`
	URLImagen string `json:"url_imagen"`
	Message   string `json:"message"`
}

func NewHTTPRelayClient(endpoint string, httpClient *http.Client) *HTTPRelayClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPRelayClient{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: httpClient,
	}
}

func (c *HTTPRelayClient) Transform(ctx context.Context, req domain.TransformRequest) (domain.TransformResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("marshal transform request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("%w: build request: %v", domain.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	var out relayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return domain.Failure(http.StatusText(resp.StatusCode)), nil
		}
		return domain.TransformResult{}, fmt.Errorf("decode relay response status=%d: %w", resp.StatusCode, err)
	}

	imageRef := out.ImageRef
	if imageRef == "" {
		imageRef = out.URLImagen
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.Success || imageRef == "" {
		message := out.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return domain.Failure(message), nil
	}
	return domain.Success(imageRef, out.Message), nil
}
