package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/KudcraftsHQ/label-printer-server/internal/api"
	"github.com/KudcraftsHQ/label-printer-server/internal/api/handlers"
	"github.com/KudcraftsHQ/label-printer-server/internal/api/middleware"
	"github.com/KudcraftsHQ/label-printer-server/internal/config"
	"github.com/KudcraftsHQ/label-printer-server/internal/core"
	"github.com/KudcraftsHQ/label-printer-server/internal/journal"
	"github.com/KudcraftsHQ/label-printer-server/internal/logging"
	"github.com/KudcraftsHQ/label-printer-server/internal/metrics"
	"github.com/KudcraftsHQ/label-printer-server/internal/usb"
	"github.com/KudcraftsHQ/label-printer-server/internal/version"
	"github.com/KudcraftsHQ/label-printer-server/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	log.Info("label printer server starting",
		zap.String("version", version.Version),
		zap.Int("port", cfg.Server.Port))

	collector := metrics.NewCollector()

	var notifier core.Notifier
	if len(cfg.Webhooks) > 0 {
		sender := webhook.NewSender(webhookEndpoints(cfg.Webhooks), webhook.Config{}, log)
		sender.Start()
		defer sender.Stop()
		notifier = sender
	}

	transport := usb.NewTransport(cfg.Printer.SysfsRoot, cfg.Printer.DevRoot, log)
	registry := core.NewRegistry(transport, cfg.Printer.SendTimeout, notifier, log)
	defer registry.Close()

	queue := core.NewJobQueue(collector)

	var jnl *journal.Journal
	var recorder core.Recorder
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path, cfg.Journal.RetentionDays, log)
		if err != nil {
			log.Error("failed to open journal", zap.Error(err))
			return 1
		}
		defer jnl.Close()
		jnl.Start()
		defer jnl.Stop()
		recorder = jnl
	}

	renderer := core.NewTSPLRenderer(pagePresets(cfg.Pages))

	processor := core.NewProcessor(queue, registry, renderer, recorder, notifier, collector, core.ProcessorConfig{
		PollInterval:   cfg.Queue.PollInterval,
		PrinterBackoff: cfg.Queue.PrinterBackoff,
	}, log)
	processor.Start()
	defer processor.Stop()

	auth, err := middleware.NewAuthMiddleware(cfg.Auth)
	if err != nil {
		log.Error("failed to initialise auth", zap.Error(err))
		return 1
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(
		handlers.NewPrinterHandler(registry),
		handlers.NewJobHandler(queue, jnl, cfg.Queue.ListLimit),
		api.RouterConfig{Auth: auth, Collector: collector, Log: log},
	)

	server := api.NewServer(router, cfg.Server, log)
	errCh := server.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", zap.Error(err))
			return 1
		}
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	return 0
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("LPS_CONFIG")
	if path == "" {
		path = "config.yml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func webhookEndpoints(configs []config.WebhookConfig) []webhook.Endpoint {
	endpoints := make([]webhook.Endpoint, 0, len(configs))
	for _, wc := range configs {
		endpoints = append(endpoints, webhook.Endpoint{
			Name:   wc.Name,
			URL:    wc.URL,
			Secret: wc.Secret,
			Events: wc.Events,
		})
	}
	return endpoints
}

func pagePresets(pages map[string]config.PageConfig) map[string]core.PagePreset {
	presets := make(map[string]core.PagePreset, len(pages))
	for name, p := range pages {
		presets[name] = core.PagePreset{
			WidthMM:  p.WidthMM,
			HeightMM: p.HeightMM,
			GapMM:    p.GapMM,
			DPI:      p.DPI,
		}
	}
	return presets
}
