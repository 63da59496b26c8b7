package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dunamismax/vintagebooth/internal/booth"
	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/filter"
	"github.com/dunamismax/vintagebooth/internal/share"
	"github.com/dunamismax/vintagebooth/internal/telemetry"
)

func main() {
	cfg := config.Load()

	photo := flag.String("photo", "", "path of the photo to transform")
	out := flag.String("out", "", "directory for the filtered download (skipped when empty)")
	endpoint := flag.String("endpoint", cfg.Booth.Endpoint, "relay transform endpoint")
	doShare := flag.Bool("share", false, "share the result after it arrives")
	flag.Parse()

	logger := log.New(os.Stdout, "[booth] ", log.LstdFlags|log.Lmsgprefix)
	if *photo == "" {
		logger.Fatal("-photo is required")
	}

	if err := filter.Startup(); err != nil {
		logger.Fatalf("filter runtime failed: %v", err)
	}
	defer filter.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, "booth", logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	data, err := os.ReadFile(*photo)
	if err != nil {
		logger.Fatalf("read photo: %v", err)
	}

	httpClient := &http.Client{Timeout: cfg.Booth.RequestTimeout}
	opts := booth.OptionsFromConfig(cfg.Booth)
	opts.HTTPClient = httpClient
	opts.Notifier = booth.NotifierFunc(func(message string) { logger.Printf("%s", message) })
	opts.OnStep = func(from, to domain.Step) { logger.Printf("step %s -> %s", from, to) }
	opts.Sharer = share.NewClient(share.Config{
		Endpoint:      cfg.Booth.ShareWebhook,
		SigningSecret: cfg.Booth.ShareSecret,
		MaxAttempts:   3,
	})

	controller, err := booth.NewController(logger, booth.NewHTTPRelayClient(*endpoint, httpClient), opts)
	if err != nil {
		logger.Fatalf("booth setup failed: %v", err)
	}

	capture := domain.Capture{Name: filepath.Base(*photo), Data: data}
	if err := controller.SubmitCapture(ctx, capture); err != nil {
		os.Exit(1)
	}
	logger.Printf("result: %.80s", controller.ImageRef())

	if *out != "" {
		if err := download(ctx, controller, *out); err != nil {
			logger.Fatalf("download failed: %v", err)
		}
	}
	if *doShare {
		controller.Share(ctx)
	}
}

func download(ctx context.Context, controller *booth.Controller, dir string) error {
	tmp, err := os.CreateTemp(dir, ".vintagebooth-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, err := controller.Download(ctx, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}
