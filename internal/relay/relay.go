// Package relay turns one image payload into one provider call and maps the
// outcome onto the success/failure wire shape.
package relay

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/dataurl"
	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/id"
	"github.com/dunamismax/vintagebooth/internal/provider"
)

// ArtifactStore stages a networked copy of an input image. Stage returns a
// URL the provider can read.
type ArtifactStore interface {
	Stage(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type cleanupEnqueuer interface {
	EnqueueDeleteArtifact(ctx context.Context, objectKey string) (*asynq.TaskInfo, error)
}

type Options struct {
	Artifacts      ArtifactStore
	Cleanup        cleanupEnqueuer
	Staging        string
	ArtifactPrefix string
	Prompt         string
	SuccessMessage string
	MaxInFlight    int
	AcquireTimeout time.Duration
	AttemptTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CleanupTimeout time.Duration
}

// OptionsFromConfig maps relay and provider configuration onto Options.
// Collaborators are left for the caller to set.
func OptionsFromConfig(relayCfg config.RelayConfig, providerCfg config.ProviderConfig) Options {
	return Options{
		Staging:        relayCfg.Staging,
		ArtifactPrefix: relayCfg.ArtifactPrefix,
		Prompt:         providerCfg.Prompt,
		SuccessMessage: relayCfg.SuccessMessage,
		MaxInFlight:    relayCfg.MaxInFlight,
		AcquireTimeout: relayCfg.AcquireTimeout,
		AttemptTimeout: relayCfg.ProviderTimeout,
		MaxAttempts:    relayCfg.MaxAttempts,
		InitialBackoff: relayCfg.InitialBackoff,
		MaxBackoff:     relayCfg.MaxBackoff,
		CleanupTimeout: relayCfg.CleanupTimeout,
	}
}

type Relay struct {
	logger         *log.Logger
	provider       provider.Provider
	artifacts      ArtifactStore
	cleanupQueue   cleanupEnqueuer
	staging        string
	artifactPrefix string
	prompt         string
	successMessage string
	sem            chan struct{}
	acquireTimeout time.Duration
	attemptTimeout time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	cleanupTimeout time.Duration
	metrics        *metrics
	tracer         trace.Tracer
}

func New(logger *log.Logger, p provider.Provider, opts Options) *Relay {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	staging := strings.ToLower(strings.TrimSpace(opts.Staging))
	switch staging {
	case config.StagingAlways, config.StagingOff:
	default:
		staging = config.StagingAuto
	}

	successMessage := strings.TrimSpace(opts.SuccessMessage)
	if successMessage == "" {
		successMessage = "Here is your image."
	}

	var sem chan struct{}
	if opts.MaxInFlight > 0 {
		sem = make(chan struct{}, opts.MaxInFlight)
	}

	acquireTimeout := opts.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 10 * time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	initialBackoff := opts.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}
	cleanupTimeout := opts.CleanupTimeout
	if cleanupTimeout <= 0 {
		cleanupTimeout = 10 * time.Second
	}

	r := &Relay{
		logger:         logger,
		provider:       p,
		artifacts:      opts.Artifacts,
		cleanupQueue:   opts.Cleanup,
		staging:        staging,
		artifactPrefix: opts.ArtifactPrefix,
		prompt:         opts.Prompt,
		successMessage: successMessage,
		sem:            sem,
		acquireTimeout: acquireTimeout,
		attemptTimeout: opts.AttemptTimeout,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		cleanupTimeout: cleanupTimeout,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("github.com/dunamismax/vintagebooth/internal/relay"),
	}

	if r.artifacts == nil && r.providerWantsStaging() {
		logger.Printf("provider %s prefers staged input but no artifact store is configured; sending inline data", p.Name())
	}
	return r
}

func (r *Relay) ProviderName() string {
	return r.provider.Name()
}

// Collectors exposes the relay metrics for registration on a server registry.
func (r *Relay) Collectors() []prometheus.Collector {
	return r.metrics.collectors()
}

// Transform runs one payload through the configured provider. The returned
// result is always populated; err carries the cause for status mapping and
// logging.
func (r *Relay) Transform(ctx context.Context, payload string) (result domain.TransformResult, err error) {
	start := time.Now()
	requestID := id.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = id.New()
		ctx = id.WithRequestID(ctx, requestID)
	}

	ctx, span := r.tracer.Start(ctx, "relay.transform")
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.String("provider", r.provider.Name()),
	)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("provider panic request_id=%s provider=%s panic=%v", requestID, r.provider.Name(), rec)
			err = fmt.Errorf("%w: panic: %v", domain.ErrProviderFailure, rec)
		}

		outcome := "success"
		if err != nil {
			outcome = string(domain.Classify(err))
			result = domain.Failure(domain.MessageFor(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		r.metrics.transformsTotal.WithLabelValues(r.provider.Name(), outcome).Inc()
		r.metrics.transformDuration.WithLabelValues(r.provider.Name(), outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	if strings.TrimSpace(payload) == "" {
		return domain.TransformResult{}, domain.ErrMissingImage
	}

	data, mimeType, err := dataurl.Decode(payload)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if sniffed := http.DetectContentType(data); !strings.HasPrefix(sniffed, "image/") {
		return domain.TransformResult{}, fmt.Errorf("%w: content is %s", domain.ErrInvalidImage, sniffed)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return domain.TransformResult{}, err
	}
	defer release()

	req := provider.Request{
		RequestID: requestID,
		Image:     data,
		MIMEType:  mimeType,
		Prompt:    r.prompt,
	}

	if r.shouldStage() {
		key := id.ArtifactKey(r.artifactPrefix, mimeType)
		sourceURL, err := r.stage(ctx, key, data, mimeType)
		if err != nil {
			return domain.TransformResult{}, fmt.Errorf("%w: stage input: %w", domain.ErrProviderFailure, err)
		}
		defer r.cleanup(ctx, requestID, key)
		req.SourceURL = sourceURL
	}

	out, err := r.invoke(ctx, req)
	if err != nil {
		r.logger.Printf("transform failed request_id=%s provider=%s category=%s err=%v", requestID, r.provider.Name(), domain.Classify(err), err)
		return domain.TransformResult{}, err
	}
	if strings.TrimSpace(out.ImageRef) == "" {
		return domain.TransformResult{}, fmt.Errorf("%s: %w", r.provider.Name(), domain.ErrNoImageGenerated)
	}

	return domain.Success(out.ImageRef, r.successMessage), nil
}

func (r *Relay) acquire(ctx context.Context) (func(), error) {
	if r.sem == nil {
		r.metrics.inFlight.Inc()
		return r.metrics.inFlight.Dec, nil
	}

	timer := time.NewTimer(r.acquireTimeout)
	defer timer.Stop()

	select {
	case r.sem <- struct{}{}:
		r.metrics.inFlight.Inc()
		return func() {
			r.metrics.inFlight.Dec()
			<-r.sem
		}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no slot within %s", domain.ErrRelayBusy, r.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Relay) providerWantsStaging() bool {
	stager, ok := r.provider.(provider.Stager)
	return ok && stager.RequiresStaging()
}

func (r *Relay) shouldStage() bool {
	if r.artifacts == nil {
		return false
	}
	switch r.staging {
	case config.StagingAlways:
		return true
	case config.StagingOff:
		return false
	default:
		return r.providerWantsStaging()
	}
}

func (r *Relay) stage(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "relay.stage_artifact")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.key", key), attribute.Int("artifact.bytes", len(data)))

	sourceURL, err := r.artifacts.Stage(ctx, key, data, mimeType)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	r.metrics.artifactsCreated.Inc()
	return sourceURL, nil
}

// cleanup deletes a staged artifact. It runs on every exit path after a
// successful Stage, including panics, and never fails the request.
func (r *Relay) cleanup(parent context.Context, requestID, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.cleanupTimeout)
	defer cancel()

	err := r.artifacts.Delete(ctx, key)
	if err == nil {
		r.metrics.artifactsDeleted.Inc()
		return
	}

	r.metrics.cleanupFailures.Inc()
	r.logger.Printf("artifact cleanup failed request_id=%s key=%s err=%v", requestID, key, err)
	if r.cleanupQueue == nil {
		return
	}

	info, err := r.cleanupQueue.EnqueueDeleteArtifact(ctx, key)
	if err != nil {
		r.logger.Printf("enqueue artifact cleanup failed request_id=%s key=%s err=%v", requestID, key, err)
		return
	}
	r.metrics.cleanupEnqueued.Inc()
	if info != nil {
		r.logger.Printf("artifact cleanup enqueued request_id=%s key=%s task_id=%s", requestID, key, info.ID)
	}
}
