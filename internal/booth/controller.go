// Package booth drives the capture, processing and result steps of the photo
// booth and the actions available on a result.
package booth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/dataurl"
	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/filter"
	"github.com/dunamismax/vintagebooth/internal/share"
)

const (
	failurePrefix       = "Could not transform the photo! "
	defaultDownloadName = "vintage-portrait.jpg"
	maxResultBytes      = 50 << 20
)

var (
	ErrWrongStep = errors.New("action not available in the current step")
	ErrNoResult  = errors.New("no transformed image to download")
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(message string)
}

type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// StepListener is told about every step change after it happened.
type StepListener func(from, to domain.Step)

type Sharer interface {
	Available() bool
	Share(ctx context.Context, payload share.Payload) error
}

type Options struct {
	Notifier      Notifier
	OnStep        StepListener
	Sharer        Sharer
	Transformer   filter.Transformer
	HTTPClient    *http.Client
	Filter        filter.Params
	MaxDimension  int
	DownloadName  string
	JPEGQuality   int
	ShareTitle    string
	ShareText     string
	ShareURL      string
	ShareFallback string
}

// OptionsFromConfig maps booth configuration onto Options. Collaborators are
// left for the caller.
func OptionsFromConfig(cfg config.BoothConfig) Options {
	return Options{
		Filter: filter.Params{
			Sepia:      cfg.Sepia,
			Contrast:   cfg.Contrast,
			Saturation: cfg.Saturation,
			Vignette:   cfg.Vignette,
		},
		MaxDimension:  cfg.MaxDimension,
		DownloadName:  cfg.DownloadName,
		JPEGQuality:   cfg.JPEGQuality,
		ShareTitle:    cfg.ShareTitle,
		ShareText:     cfg.ShareText,
		ShareURL:      cfg.ShareURL,
		ShareFallback: cfg.ShareFallback,
	}
}

// Controller holds the booth state. Exactly one step is active; a
// submission is the only way into Processing and always leaves it.
type Controller struct {
	mu       sync.Mutex
	step     domain.Step
	imageRef string
	message  string

	logger        *log.Logger
	relay         RelayClient
	notifier      Notifier
	onStep        StepListener
	sharer        Sharer
	transformer   filter.Transformer
	httpClient    *http.Client
	params        filter.Params
	maxDim        int
	download      string
	quality       int
	sharePayload  share.Payload
	shareFallback string
}

func NewController(logger *log.Logger, relay RelayClient, opts Options) (*Controller, error) {
	if relay == nil {
		return nil, errors.New("relay client is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	transformer := opts.Transformer
	if transformer == nil {
		var err error
		transformer, err = filter.NewTransformer()
		if err != nil {
			return nil, fmt.Errorf("initialize filter: %w", err)
		}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(message string) { logger.Printf("notice: %s", message) })
	}

	params := opts.Filter
	if params == (filter.Params{}) {
		params = filter.DefaultParams()
	}
	downloadName := strings.TrimSpace(opts.DownloadName)
	if downloadName == "" {
		downloadName = defaultDownloadName
	}

	return &Controller{
		step:        domain.StepCapture,
		logger:      logger,
		relay:       relay,
		notifier:    notifier,
		onStep:      opts.OnStep,
		sharer:      opts.Sharer,
		transformer: transformer,
		httpClient:  httpClient,
		params:      params.Normalize(),
		maxDim:      opts.MaxDimension,
		download:    downloadName,
		quality:     opts.JPEGQuality,
		sharePayload: share.Payload{
			Title: opts.ShareTitle,
			Text:  opts.ShareText,
			URL:   opts.ShareURL,
		},
		shareFallback: opts.ShareFallback,
	}, nil
}

func (c *Controller) Step() domain.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

func (c *Controller) ImageRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageRef
}

// Message is the last failure shown to the user, cleared by the next
// submission or a retake.
func (c *Controller) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// SubmitCapture sends capture to the relay with exactly one request. An
// empty capture is ignored. Any failure returns the booth to Capture with a
// message; the returned error carries the cause.
func (c *Controller) SubmitCapture(ctx context.Context, capture domain.Capture) error {
	if capture.Empty() {
		return nil
	}

	c.mu.Lock()
	if c.step != domain.StepCapture {
		c.mu.Unlock()
		return fmt.Errorf("%w: submit during %s", ErrWrongStep, c.step)
	}
	c.message = ""
	c.imageRef = ""
	from := c.transition(domain.StepProcessing)
	c.mu.Unlock()
	c.stepChanged(from, domain.StepProcessing)

	payload, err := c.encode(capture)
	if err != nil {
		c.fail(failurePrefix + domain.MessageInvalidImage)
		return err
	}

	result, err := c.relay.Transform(ctx, domain.TransformRequest{Image: payload})
	switch {
	case err != nil && errors.Is(err, domain.ErrTransport):
		c.logger.Printf("relay unreachable: %v", err)
		c.fail(domain.MessageTransport)
		return err
	case err != nil:
		c.logger.Printf("relay call failed: %v", err)
		c.fail(failurePrefix + domain.MessageFailure)
		return err
	case !result.Success || result.ImageRef == "":
		c.fail(failurePrefix + result.Message)
		return fmt.Errorf("relay reported failure: %s", result.Message)
	}

	c.mu.Lock()
	c.imageRef = result.ImageRef
	from = c.transition(domain.StepResult)
	c.mu.Unlock()
	c.stepChanged(from, domain.StepResult)
	return nil
}

// encode produces the data URI sent to the relay, downscaling first when a
// maximum dimension is configured.
func (c *Controller) encode(capture domain.Capture) (string, error) {
	data := capture.Data
	contentType := capture.ContentType()
	if c.maxDim <= 0 {
		return dataurl.Encode(contentType, data), nil
	}

	img, _, err := filter.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	fitted := filter.Fit(img, c.maxDim)
	if fitted == img {
		return dataurl.Encode(contentType, data), nil
	}

	resized, err := filter.Encode(fitted, "jpeg", c.quality)
	if err != nil {
		return "", err
	}
	return dataurl.Encode(filter.ContentType("jpeg"), resized), nil
}

func (c *Controller) fail(message string) {
	c.mu.Lock()
	c.message = message
	c.imageRef = ""
	from := c.transition(domain.StepCapture)
	c.mu.Unlock()

	c.stepChanged(from, domain.StepCapture)
	c.notifier.Notify(message)
}

// transition sets the step and returns the previous one. It must be called
// with mu held.
func (c *Controller) transition(to domain.Step) domain.Step {
	from := c.step
	c.step = to
	return from
}

// stepChanged runs the listener. Listeners may call back into the
// controller, so mu must not be held.
func (c *Controller) stepChanged(from, to domain.Step) {
	if c.onStep != nil && from != to {
		c.onStep(from, to)
	}
}

// Download bakes the vintage filter into the result image at its native size
// and writes it to w as JPEG. It returns the suggested file name.
func (c *Controller) Download(ctx context.Context, w io.Writer) (string, error) {
	c.mu.Lock()
	step, ref := c.step, c.imageRef
	c.mu.Unlock()

	if step != domain.StepResult || ref == "" {
		return "", ErrNoResult
	}

	data, err := c.fetch(ctx, ref)
	if err != nil {
		return "", err
	}

	out, err := c.transformer.Bake(ctx, data, c.params, "jpeg", c.quality)
	if err != nil {
		return "", fmt.Errorf("bake filter: %w", err)
	}
	if _, err := w.Write(out.Data); err != nil {
		return "", fmt.Errorf("write download: %w", err)
	}
	return c.download, nil
}

func (c *Controller) fetch(ctx context.Context, ref string) ([]byte, error) {
	if dataurl.IsDataURL(ref) {
		data, _, err := dataurl.Decode(ref)
		if err != nil {
			return nil, fmt.Errorf("decode result image: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build result request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch result image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch result image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("read result image: %w", err)
	}
	return data, nil
}

// Share hands the fixed share payload to the configured sharer. Without one
// the manual sharing instructions are shown instead. A failed share is only
// logged.
func (c *Controller) Share(ctx context.Context) {
	if c.sharer == nil || !c.sharer.Available() {
		c.notifier.Notify(c.shareFallback)
		return
	}

	payload := c.sharePayload
	if ref := c.ImageRef(); strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		payload.ImageURL = ref
	}
	if err := c.sharer.Share(ctx, payload); err != nil {
		c.logger.Printf("share failed: %v", err)
		return
	}
	c.logger.Printf("shared title=%q", payload.Title)
}

// Retake returns to Capture and forgets the current result.
func (c *Controller) Retake() error {
	c.mu.Lock()
	if c.step == domain.StepProcessing {
		c.mu.Unlock()
		return fmt.Errorf("%w: retake during %s", ErrWrongStep, domain.StepProcessing)
	}
	c.imageRef = ""
	c.message = ""
	from := c.transition(domain.StepCapture)
	c.mu.Unlock()

	c.stepChanged(from, domain.StepCapture)
	return nil
}
