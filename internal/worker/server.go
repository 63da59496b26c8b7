package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/queue"
)

const (
	statusDeleted = "deleted"
	statusFailed  = "failed"
)

type Server struct {
	logger  *log.Logger
	server  *asynq.Server
	sem     chan struct{}
	deleter artifactDeleter
	metrics *metrics
	tracer  trace.Tracer
}

type artifactDeleter interface {
	Delete(ctx context.Context, key string) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	deleter artifactDeleter,
) (*Server, error) {
	if deleter == nil {
		return nil, fmt.Errorf("artifact deleter is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:     make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		deleter: deleter,
		metrics: newMetrics(),
		tracer:  otel.Tracer("vintagebooth/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDeleteArtifact, s.handleDeleteArtifact)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleDeleteArtifact(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := statusFailed

	payload, err := queue.ParseDeleteArtifactPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.delete_artifact", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("artifact.key", payload.ObjectKey),
		attribute.String("artifact.requested_at", payload.RequestedAt.Format(time.RFC3339)),
	)
	defer span.End()
	defer func() {
		s.metrics.deletionDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.deletionsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	if err := s.deleter.Delete(ctx, payload.ObjectKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("delete artifact %s: %w", payload.ObjectKey, err)
	}

	s.logger.Printf("Deleted artifact key=%s age=%s", payload.ObjectKey, time.Since(payload.RequestedAt).Round(time.Millisecond))
	outcome = statusDeleted
	span.SetStatus(codes.Ok, "deleted")
	return nil
}
