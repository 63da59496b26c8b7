package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/domain"
)

// Imagen calls the Vertex AI Imagen predict endpoint. The bearer token comes
// from configuration; minting it is left to the deployment.
const (
	maskModeSemantic = "MASK_MODE_SEMANTIC"
	// segmentationClassApparel selects clothing in semantic mask mode.
	segmentationClassApparel = 165
)

type Imagen struct {
	httpClient    *http.Client
	endpoint      string
	accessToken   string
	editMode      string
	maskMode      string
	maskClasses   []int
	safetySetting string
}

type imagenImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type imagenMaskConfig struct {
	MaskMode    string  `json:"maskMode"`
	MaskClasses []int   `json:"maskClasses,omitempty"`
	Dilation    float64 `json:"dilation,omitempty"`
}

type imagenReference struct {
	ReferenceType   string            `json:"referenceType"`
	ReferenceID     int               `json:"referenceId"`
	ReferenceImage  imagenImage       `json:"referenceImage"`
	MaskImageConfig *imagenMaskConfig `json:"maskImageConfig,omitempty"`
}

type imagenInstance struct {
	Prompt          string            `json:"prompt"`
	Image           *imagenImage      `json:"image,omitempty"`
	ReferenceImages []imagenReference `json:"referenceImages,omitempty"`
}

type imagenParameters struct {
	EditMode         string `json:"editMode,omitempty"`
	SampleCount      int    `json:"sampleCount"`
	PersonGeneration string `json:"personGeneration,omitempty"`
	SafetySetting    string `json:"safetySetting,omitempty"`
	GuidanceScale    int    `json:"guidanceScale,omitempty"`
}

type imagenRequest struct {
	Instances  []imagenInstance `json:"instances"`
	Parameters imagenParameters `json:"parameters"`
}

type imagenPrediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
	RaiFilteredReason  string `json:"raiFilteredReason"`
}

type imagenResponse struct {
	Predictions []imagenPrediction `json:"predictions"`
}

type imagenErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewImagen(cfg config.ImagenConfig, httpClient *http.Client) (*Imagen, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("imagen provider requires GOOGLE_CLOUD_PROJECT_ID")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("imagen provider requires IMAGEN_ACCESS_TOKEN")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-central1"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "imagen-3.0-capability-001"
	}
	maskMode := strings.TrimSpace(cfg.MaskMode)
	maskClasses := cfg.MaskClasses
	if maskMode == maskModeSemantic && len(maskClasses) == 0 {
		maskClasses = []int{segmentationClassApparel}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", region)
	}

	return &Imagen{
		httpClient: httpClient,
		endpoint: fmt.Sprintf(
			"%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
			baseURL, cfg.ProjectID, region, model,
		),
		accessToken:   cfg.AccessToken,
		editMode:      strings.TrimSpace(cfg.EditMode),
		maskMode:      maskMode,
		maskClasses:   maskClasses,
		safetySetting: strings.TrimSpace(cfg.SafetySetting),
	}, nil
}

func (p *Imagen) Name() string {
	return NameImagen
}

func (p *Imagen) Transform(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return Result{}, fmt.Errorf("marshal imagen request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build imagen request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("invoke imagen: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Result{}, imagenStatusError(resp)
	}

	var out imagenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode imagen response: %w", err)
	}

	// An empty prediction list is how Imagen reports a safety block when
	// filtered reasons are not requested.
	if len(out.Predictions) == 0 {
		return Result{}, fmt.Errorf("imagen returned no predictions: %w", domain.ErrProviderRejected)
	}

	prediction := out.Predictions[0]
	if prediction.RaiFilteredReason != "" {
		return Result{}, fmt.Errorf("imagen filtered the image: %s: %w", prediction.RaiFilteredReason, domain.ErrProviderRejected)
	}
	if prediction.BytesBase64Encoded == "" {
		return Result{}, fmt.Errorf("imagen prediction has no image bytes: %w", domain.ErrNoImageGenerated)
	}

	mimeType := prediction.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return Result{
		ImageRef: "data:" + mimeType + ";base64," + prediction.BytesBase64Encoded,
		MIMEType: mimeType,
	}, nil
}

func (p *Imagen) buildRequest(req Request) imagenRequest {
	encoded := base64.StdEncoding.EncodeToString(req.Image)
	instance := imagenInstance{Prompt: req.Prompt}
	params := imagenParameters{
		SampleCount:      1,
		PersonGeneration: "allow_all",
		SafetySetting:    p.safetySetting,
	}

	if p.editMode == "" {
		instance.Image = &imagenImage{BytesBase64Encoded: encoded}
		return imagenRequest{Instances: []imagenInstance{instance}, Parameters: params}
	}

	instance.ReferenceImages = []imagenReference{
		{
			ReferenceType:  "REFERENCE_TYPE_RAW",
			ReferenceID:    1,
			ReferenceImage: imagenImage{BytesBase64Encoded: encoded},
		},
		{
			ReferenceType:  "REFERENCE_TYPE_MASK",
			ReferenceID:    2,
			ReferenceImage: imagenImage{BytesBase64Encoded: encoded},
			MaskImageConfig: &imagenMaskConfig{
				MaskMode:    p.maskMode,
				MaskClasses: p.maskClasses,
				Dilation:    0.02,
			},
		},
	}
	params.EditMode = p.editMode
	params.GuidanceScale = 80
	return imagenRequest{Instances: []imagenInstance{instance}, Parameters: params}
}

func imagenStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := strings.TrimSpace(string(data))
	var apiErr imagenErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	statusErr := &APIError{Provider: NameImagen, StatusCode: resp.StatusCode, Message: message}
	if resp.StatusCode == http.StatusBadRequest && LooksRejected(message) {
		return fmt.Errorf("%w: %w", domain.ErrProviderRejected, statusErr)
	}
	return statusErr
}

var _ Provider = (*Imagen)(nil)

