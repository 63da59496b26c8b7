package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/dataurl"
	"github.com/dunamismax/vintagebooth/internal/domain"
)

const (
	replicateStatusSucceeded = "succeeded"
	replicateStatusFailed    = "failed"
	replicateStatusCanceled  = "canceled"

	maxPollFailures = 3
	cancelTimeout   = 5 * time.Second
)

// Replicate runs a hosted model through the Replicate predictions API.
type Replicate struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	model        string
	imageField   string
	pollInterval time.Duration
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

func NewReplicate(cfg config.ReplicateConfig, httpClient *http.Client) (*Replicate, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("replicate provider requires REPLICATE_API_TOKEN")
	}
	model := strings.Trim(strings.TrimSpace(cfg.Model), "/")
	if strings.Count(model, "/") != 1 {
		return nil, fmt.Errorf("replicate model must be owner/name, got %q", cfg.Model)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	imageField := strings.TrimSpace(cfg.ImageField)
	if imageField == "" {
		imageField = "image"
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &Replicate{
		httpClient:   httpClient,
		baseURL:      baseURL,
		token:        cfg.APIToken,
		model:        model,
		imageField:   imageField,
		pollInterval: pollInterval,
	}, nil
}

func (p *Replicate) Name() string {
	return NameReplicate
}

// RequiresStaging is true because Replicate reads large inputs by URL.
func (p *Replicate) RequiresStaging() bool {
	return true
}

func (p *Replicate) Transform(ctx context.Context, req Request) (Result, error) {
	source := strings.TrimSpace(req.SourceURL)
	if source == "" {
		source = dataurl.Encode(req.MIMEType, req.Image)
	}

	body, err := json.Marshal(map[string]any{
		"input": map[string]any{
			"prompt":     req.Prompt,
			p.imageField: source,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal replicate request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", p.baseURL, p.model)
	prediction, err := p.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Result{}, err
	}

	// From here on a prediction exists upstream. Retrying the whole
	// transform would start a second one, so failures are permanent.
	prediction, err = p.await(ctx, prediction)
	if err != nil {
		p.cancel(ctx, prediction)
		return Result{}, Permanent(fmt.Errorf("replicate prediction %s: %w", prediction.ID, err))
	}

	switch prediction.Status {
	case replicateStatusFailed, replicateStatusCanceled:
		reason := fmt.Sprint(prediction.Error)
		if prediction.Error == nil {
			reason = prediction.Status
		}
		if LooksRejected(reason) {
			return Result{}, fmt.Errorf("replicate prediction %s: %s: %w", prediction.ID, reason, domain.ErrProviderRejected)
		}
		return Result{}, fmt.Errorf("replicate prediction %s %s: %s", prediction.ID, prediction.Status, reason)
	}

	ref, err := firstOutput(prediction.Output)
	if err != nil {
		return Result{}, fmt.Errorf("replicate prediction %s: %w", prediction.ID, err)
	}
	return Result{ImageRef: ref}, nil
}

// await polls until prediction reaches a terminal status. Transient poll
// failures are retried in place up to maxPollFailures times in a row.
func (p *Replicate) await(ctx context.Context, prediction replicatePrediction) (replicatePrediction, error) {
	failures := 0
	for !isTerminal(prediction.Status) {
		if prediction.URLs.Get == "" {
			return prediction, errors.New("no poll url")
		}
		select {
		case <-ctx.Done():
			return prediction, ctx.Err()
		case <-time.After(p.pollInterval):
		}

		next, err := p.do(ctx, http.MethodGet, prediction.URLs.Get, nil)
		if err != nil {
			failures++
			if ctx.Err() != nil || !IsRetryable(err) || failures > maxPollFailures {
				return prediction, fmt.Errorf("poll: %w", err)
			}
			continue
		}
		failures = 0
		prediction = next
	}
	return prediction, nil
}

// cancel asks Replicate to stop a prediction that is still running. It is
// best effort and outlives ctx.
func (p *Replicate) cancel(ctx context.Context, prediction replicatePrediction) {
	if prediction.URLs.Cancel == "" || isTerminal(prediction.Status) {
		return
	}
	ctx, done := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer done()
	_, _ = p.do(ctx, http.MethodPost, prediction.URLs.Cancel, nil)
}

func (p *Replicate) do(ctx context.Context, method, endpoint string, body []byte) (replicatePrediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return replicatePrediction{}, fmt.Errorf("build replicate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "wait")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return replicatePrediction{}, fmt.Errorf("invoke replicate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		message := strings.TrimSpace(string(data))
		statusErr := &APIError{Provider: NameReplicate, StatusCode: resp.StatusCode, Message: message}
		if resp.StatusCode == http.StatusUnprocessableEntity && LooksRejected(message) {
			return replicatePrediction{}, fmt.Errorf("%w: %w", domain.ErrProviderRejected, statusErr)
		}
		return replicatePrediction{}, statusErr
	}

	var prediction replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return replicatePrediction{}, fmt.Errorf("decode replicate response: %w", err)
	}
	return prediction, nil
}

func isTerminal(status string) bool {
	switch status {
	case replicateStatusSucceeded, replicateStatusFailed, replicateStatusCanceled:
		return true
	default:
		return false
	}
}

// firstOutput accepts the two output shapes image models use: a single URL
// or a list of URLs.
func firstOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", domain.ErrNoImageGenerated
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return "", domain.ErrNoImageGenerated
		}
		return single, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("unexpected output shape: %w", err)
	}
	for _, item := range list {
		if strings.TrimSpace(item) != "" {
			return item, nil
		}
	}
	return "", domain.ErrNoImageGenerated
}

var (
	_ Provider = (*Replicate)(nil)
	_ Stager   = (*Replicate)(nil)
)
