package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/dataurl"
	"github.com/dunamismax/vintagebooth/internal/domain"
)

func testPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rejected", fmt.Errorf("x: %w", domain.ErrProviderRejected), false},
		{"no image", domain.ErrNoImageGenerated, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"throttled", &APIError{Provider: "x", StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &APIError{Provider: "x", StatusCode: http.StatusBadGateway}, true},
		{"bad request", &APIError{Provider: "x", StatusCode: http.StatusBadRequest}, false},
		{"plain", errors.New("boom"), false},
		{"permanent server error", Permanent(&APIError{Provider: "x", StatusCode: http.StatusBadGateway}), false},
		{"permanent deadline", Permanent(context.DeadlineExceeded), false},
	}

	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestLooksRejected(t *testing.T) {
	if !LooksRejected("Image editing failed due to Responsible AI practices") {
		t.Fatalf("expected responsible ai wording to count as rejection")
	}
	if LooksRejected("quota exceeded") {
		t.Fatalf("expected quota wording not to count as rejection")
	}
}

func TestNewDefaultsToLocal(t *testing.T) {
	p, err := New(config.ProviderConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if p.Name() != NameLocal {
		t.Fatalf("expected local provider, got %s", p.Name())
	}

	if _, err := New(config.ProviderConfig{Name: "dreamstudio"}, nil, nil); err == nil {
		t.Fatalf("expected unknown provider to fail")
	}
	if _, err := New(config.ProviderConfig{Name: NameImagen}, nil, nil); err == nil {
		t.Fatalf("expected imagen without credentials to fail")
	}
}

func TestLocalTransformReturnsPNGDataURL(t *testing.T) {
	p := NewLocal()
	result, err := p.Transform(context.Background(), Request{Image: testPNG(t), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	data, mimeType, err := dataurl.Decode(result.ImageRef)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if mimeType != "image/png" {
		t.Fatalf("expected image/png, got %s", mimeType)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Fatalf("expected 8x8 output, got %v", img.Bounds())
	}
}

func TestLocalTransformRejectsNonImage(t *testing.T) {
	_, err := NewLocal().Transform(context.Background(), Request{Image: []byte("not an image")})
	if !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
}

func newTestImagen(t *testing.T, handler http.HandlerFunc) *Imagen {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewImagen(config.ImagenConfig{
		ProjectID:     "demo",
		Region:        "us-central1",
		Model:         "imagen-3.0-capability-001",
		BaseURL:       srv.URL,
		AccessToken:   "token",
		EditMode:      "EDIT_MODE_BGSWAP",
		MaskMode:      "MASK_MODE_BACKGROUND",
		SafetySetting: "block_some",
	}, srv.Client())
	if err != nil {
		t.Fatalf("new imagen: %v", err)
	}
	return p
}

func TestImagenTransformSendsEditRequest(t *testing.T) {
	input := testPNG(t)
	p := newTestImagen(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/projects/demo/locations/us-central1/publishers/google/models/imagen-3.0-capability-001:predict" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}

		var body imagenRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Instances) != 1 || len(body.Instances[0].ReferenceImages) != 2 {
			t.Errorf("expected raw and mask references, got %+v", body.Instances)
		}
		if body.Parameters.EditMode != "EDIT_MODE_BGSWAP" || body.Parameters.SampleCount != 1 {
			t.Errorf("unexpected parameters %+v", body.Parameters)
		}

		_ = json.NewEncoder(w).Encode(imagenResponse{Predictions: []imagenPrediction{{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(input),
			MimeType:           "image/png",
		}}})
	})

	result, err := p.Transform(context.Background(), Request{Image: input, MIMEType: "image/png", Prompt: "1905"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !strings.HasPrefix(result.ImageRef, "data:image/png;base64,") {
		t.Fatalf("expected png data url, got %.40s", result.ImageRef)
	}
}

func TestImagenSemanticMaskSendsClasses(t *testing.T) {
	input := testPNG(t)
	var masks []*imagenMaskConfig
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body imagenRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		for _, ref := range body.Instances[0].ReferenceImages {
			if ref.MaskImageConfig != nil {
				masks = append(masks, ref.MaskImageConfig)
			}
		}
		_ = json.NewEncoder(w).Encode(imagenResponse{Predictions: []imagenPrediction{{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(input),
			MimeType:           "image/png",
		}}})
	}))
	defer srv.Close()

	for _, tc := range []struct {
		classes []int
		want    []int
	}{
		{classes: nil, want: []int{165}},
		{classes: []int{7, 9}, want: []int{7, 9}},
	} {
		masks = nil
		p, err := NewImagen(config.ImagenConfig{
			ProjectID:   "demo",
			BaseURL:     srv.URL,
			AccessToken: "token",
			EditMode:    "EDIT_MODE_INPAINT_INSERTION",
			MaskMode:    "MASK_MODE_SEMANTIC",
			MaskClasses: tc.classes,
		}, srv.Client())
		if err != nil {
			t.Fatalf("new imagen: %v", err)
		}
		if _, err := p.Transform(context.Background(), Request{Image: input, Prompt: "1905"}); err != nil {
			t.Fatalf("transform: %v", err)
		}
		if len(masks) != 1 || masks[0].MaskMode != "MASK_MODE_SEMANTIC" || !slices.Equal(masks[0].MaskClasses, tc.want) {
			t.Fatalf("expected semantic mask with classes %v, got %+v", tc.want, masks)
		}
	}
}

func TestImagenEmptyPredictionsIsRejection(t *testing.T) {
	p := newTestImagen(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := p.Transform(context.Background(), Request{Image: testPNG(t)})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if domain.MessageFor(err) != domain.MessageRejected {
		t.Fatalf("expected rejection message, got %q", domain.MessageFor(err))
	}
}

func TestImagenSafetyErrorIsRejection(t *testing.T) {
	p := newTestImagen(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"Image editing failed with the following error: The prompt could not be submitted. It was blocked by safety filters.","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := p.Transform(context.Background(), Request{Image: testPNG(t)})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("expected rejection not to be retryable")
	}
}

func TestImagenServerErrorIsRetryable(t *testing.T) {
	p := newTestImagen(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := p.Transform(context.Background(), Request{Image: testPNG(t)})
	if err == nil || !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestReplicatePollsUntilSucceeded(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/owner/model/predictions":
			var body struct {
				Input map[string]string `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body.Input["image"] != "https://bucket.example/input/a.png" {
				t.Errorf("expected staged url as input, got %q", body.Input["image"])
			}
			_, _ = fmt.Fprintf(w, `{"id":"p1","status":"processing","urls":{"get":"%s/v1/predictions/p1"}}`, srv.URL)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
			if polls.Add(1) < 2 {
				_, _ = fmt.Fprintf(w, `{"id":"p1","status":"processing","urls":{"get":"%s/v1/predictions/p1"}}`, srv.URL)
				return
			}
			_, _ = io.WriteString(w, `{"id":"p1","status":"succeeded","output":["https://replicate.delivery/out.png"]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewReplicate(config.ReplicateConfig{
		APIToken:     "token",
		BaseURL:      srv.URL,
		Model:        "owner/model",
		PollInterval: time.Millisecond,
	}, srv.Client())
	if err != nil {
		t.Fatalf("new replicate: %v", err)
	}
	if !p.RequiresStaging() {
		t.Fatalf("expected replicate to require staging")
	}

	result, err := p.Transform(context.Background(), Request{
		Image:     testPNG(t),
		MIMEType:  "image/png",
		SourceURL: "https://bucket.example/input/a.png",
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if result.ImageRef != "https://replicate.delivery/out.png" {
		t.Fatalf("unexpected image ref %q", result.ImageRef)
	}
	if polls.Load() != 2 {
		t.Fatalf("expected 2 polls, got %d", polls.Load())
	}
}

func TestReplicateRetriesTransientPollFailuresInPlace(t *testing.T) {
	var creates, polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			creates.Add(1)
			_, _ = fmt.Fprintf(w, `{"id":"p3","status":"starting","urls":{"get":"%s/v1/predictions/p3"}}`, srv.URL)
		case http.MethodGet:
			if polls.Add(1) <= 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = io.WriteString(w, `{"id":"p3","status":"succeeded","output":"https://replicate.delivery/p3.png"}`)
		}
	}))
	defer srv.Close()

	p, err := NewReplicate(config.ReplicateConfig{APIToken: "token", BaseURL: srv.URL, Model: "owner/model", PollInterval: time.Millisecond}, srv.Client())
	if err != nil {
		t.Fatalf("new replicate: %v", err)
	}

	result, err := p.Transform(context.Background(), Request{Image: testPNG(t), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if result.ImageRef != "https://replicate.delivery/p3.png" {
		t.Fatalf("unexpected image ref %q", result.ImageRef)
	}
	if creates.Load() != 1 || polls.Load() != 3 {
		t.Fatalf("expected 1 create and 3 polls, got %d and %d", creates.Load(), polls.Load())
	}
}

func TestReplicatePollFailureIsPermanentAndCancels(t *testing.T) {
	var creates, cancels atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions/p4/cancel":
			cancels.Add(1)
			_, _ = io.WriteString(w, `{"id":"p4","status":"canceled"}`)
		case r.Method == http.MethodPost:
			creates.Add(1)
			_, _ = fmt.Fprintf(w, `{"id":"p4","status":"processing","urls":{"get":"%[1]s/v1/predictions/p4","cancel":"%[1]s/v1/predictions/p4/cancel"}}`, srv.URL)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p, err := NewReplicate(config.ReplicateConfig{APIToken: "token", BaseURL: srv.URL, Model: "owner/model", PollInterval: time.Millisecond}, srv.Client())
	if err != nil {
		t.Fatalf("new replicate: %v", err)
	}

	_, err = p.Transform(context.Background(), Request{Image: testPNG(t), MIMEType: "image/png"})
	if err == nil {
		t.Fatalf("expected poll failure")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected the 503 to be kept as cause, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("expected failure after a prediction started not to be retryable")
	}
	if creates.Load() != 1 || cancels.Load() != 1 {
		t.Fatalf("expected 1 create and 1 cancel, got %d and %d", creates.Load(), cancels.Load())
	}
}

func TestReplicateFailedPredictionWithSafetyErrorIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p2","status":"failed","error":"NSFW content detected"}`)
	}))
	defer srv.Close()

	p, err := NewReplicate(config.ReplicateConfig{APIToken: "token", BaseURL: srv.URL, Model: "owner/model"}, srv.Client())
	if err != nil {
		t.Fatalf("new replicate: %v", err)
	}

	_, err = p.Transform(context.Background(), Request{Image: testPNG(t), MIMEType: "image/png"})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestReplicateEmptyOutputIsNoImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p3","status":"succeeded","output":[]}`)
	}))
	defer srv.Close()

	p, err := NewReplicate(config.ReplicateConfig{APIToken: "token", BaseURL: srv.URL, Model: "owner/model"}, srv.Client())
	if err != nil {
		t.Fatalf("new replicate: %v", err)
	}

	_, err = p.Transform(context.Background(), Request{Image: testPNG(t), MIMEType: "image/png"})
	if !errors.Is(err, domain.ErrNoImageGenerated) {
		t.Fatalf("expected no image error, got %v", err)
	}
}

func TestOpenAITransformDecodesB64Response(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/edits" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("prompt") != "1905" {
			t.Errorf("expected prompt 1905, got %q", r.FormValue("prompt"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"created":1,"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString([]byte("png-bytes")))
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.OpenAIConfig{APIKey: "key", BaseURL: srv.URL + "/v1"}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new openai: %v", err)
	}

	result, err := p.Transform(context.Background(), Request{Image: testPNG(t), MIMEType: "image/png", Prompt: "1905"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !strings.HasPrefix(result.ImageRef, "data:image/png;base64,") {
		t.Fatalf("expected png data url, got %q", result.ImageRef)
	}
}

func TestOpenAIContentPolicyIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Your request was rejected as a result of our safety system.","type":"invalid_request_error","code":"content_policy_violation"}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.OpenAIConfig{APIKey: "key", BaseURL: srv.URL + "/v1"}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new openai: %v", err)
	}

	_, err = p.Transform(context.Background(), Request{Image: testPNG(t), MIMEType: "image/png"})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
