package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/dualscribe/internal/audio"
	"github.com/skypro1111/dualscribe/internal/config"
	"github.com/skypro1111/dualscribe/internal/events"
	"github.com/skypro1111/dualscribe/internal/live"
	"github.com/skypro1111/dualscribe/internal/metrics"
	"github.com/skypro1111/dualscribe/internal/reconcile"
	"github.com/skypro1111/dualscribe/internal/reporting"
	"github.com/skypro1111/dualscribe/internal/server"
	"github.com/skypro1111/dualscribe/internal/store"
	"github.com/skypro1111/dualscribe/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "dualscribe"
	serviceVersion    = "1.0.0"

	eventBufferSize = 64
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Configuration summary without secrets
	logger.Info("Configuration loaded",
		slog.Bool("udp_enabled", cfg.Server.Enabled),
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.Float64("interval", cfg.Live.Interval),
		slog.Bool("vad_enabled", cfg.Live.VADEnabled),
		slog.Int("aec_max_delay_ms", cfg.AEC.MaxDelayMs),
		slog.String("transcription_provider", cfg.Transcription.Provider),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	reporter, err := reporting.New(reporting.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     serviceName + "@" + serviceVersion,
		SampleRate:  cfg.Sentry.SampleRate,
	})
	if err != nil {
		logger.Error("Failed to initialize error reporting", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer reporter.Flush(2 * time.Second)
	logger.Info("Error reporting initialized", slog.Bool("enabled", reporter.Enabled()))

	segmentStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("Failed to open segment store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer segmentStore.Close()

	recognizer, err := transcription.NewRecognizer(transcription.Config{
		Provider:      cfg.Transcription.Provider,
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Language:      cfg.Transcription.Language,
		Prompt:        cfg.Transcription.Prompt,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		RetryBackoff:  cfg.Transcription.GetRetryBackoffDuration(),
	})
	if err != nil {
		logger.Error("Failed to create recognizer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if closer, ok := recognizer.(io.Closer); ok {
		defer closer.Close()
	}
	logger.Info("Recognizer initialized",
		slog.String("provider", cfg.Transcription.Provider),
		slog.Int("max_concurrent", cfg.Transcription.MaxConcurrent),
	)

	micBuffer := audio.NewSampleBuffer("mic", cfg.Capture.MicSampleRate, cfg.Capture.MicChannels)
	systemBuffer := audio.NewSampleBuffer("system", cfg.Capture.SystemSampleRate, cfg.Capture.SystemChannels)
	hub := events.NewHub(logger, eventBufferSize)

	liveConfig := live.Config{
		Interval:         cfg.Live.GetIntervalDuration(),
		SampleRate:       transcription.OperatingSampleRate,
		MaxDelayMs:       cfg.AEC.MaxDelayMs,
		StepSize:         cfg.AEC.StepSize,
		VADEnabled:       cfg.Live.VADEnabled,
		VADThreshold:     cfg.Live.VADThreshold,
		VADWindow:        cfg.Live.VADWindow,
		MinSpeechWindows: cfg.Live.MinSpeechWindows,
		Language:         cfg.Transcription.Language,
	}
	liveDeps := live.Deps{
		Mic:        micBuffer,
		System:     systemBuffer,
		Recognizer: recognizer,
		Store:      segmentStore,
		Events:     hub,
		Metrics:    appMetrics,
		Reporter:   reporter,
		Logger:     logger,
	}

	var udpServer *server.UDPServer
	if cfg.Server.Enabled {
		udpServer = server.NewUDPServer(&cfg.Server, logger, appMetrics, micBuffer, systemBuffer)

		// Live transcription stops on its own once the agent goes quiet
		if idle := cfg.Live.GetRecordingIdleDuration(); idle > 0 {
			liveDeps.Recording = live.RecordingFunc(func() bool {
				return udpServer.IsRecording(idle)
			})
			liveConfig.RecordingGrace = idle
		}
	}

	scheduler, err := live.New(liveConfig, liveDeps)
	if err != nil {
		logger.Error("Failed to create live scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	chunker, err := audio.NewChunker(audio.ChunkingConfig{
		SampleRate:         transcription.OperatingSampleRate,
		Threshold:          cfg.Reconcile.SilenceThreshold,
		MinDuration:        cfg.Reconcile.GetMinChunkDuration(),
		MaxDuration:        cfg.Reconcile.GetMaxChunkDuration(),
		MinSilenceDuration: cfg.Reconcile.GetMinSilenceDuration(),
	})
	if err != nil {
		logger.Error("Failed to create recording chunker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reconciler, err := reconcile.New(reconcile.Deps{
		Recognizer: recognizer,
		Store:      segmentStore,
		Events:     hub,
		Metrics:    appMetrics,
		Reporter:   reporter,
		Logger:     logger,
		Chunker:    chunker,
	})
	if err != nil {
		logger.Error("Failed to create reconciler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if udpServer != nil {
		if err := udpServer.Start(); err != nil {
			logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, server.HTTPDeps{
			UDPServer:  udpServer,
			Scheduler:  scheduler,
			Reconciler: reconciler,
			Store:      segmentStore,
			Hub:        hub,
			Recognizer: recognizer,
			Metrics:    appMetrics,
			Reporter:   reporter,
		})
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop accepting requests first
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// An open session still publishes its final event
	if scheduler.IsRunning() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Live.GetStopTimeoutDuration())
		result := scheduler.Stop(stopCtx)
		stopCancel()
		logger.Info("Live session closed on shutdown",
			slog.String("session_id", result.SessionID),
			slog.Int("segments", len(result.Segments)),
		)
	}

	if udpServer != nil {
		if err := udpServer.Stop(); err != nil {
			logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		}
	}

	hubStats := hub.Stats()
	logger.Info("Final event statistics",
		slog.Uint64("published", hubStats.Published),
		slog.Uint64("delivered", hubStats.Delivered),
		slog.Uint64("dropped", hubStats.Dropped),
	)

	logger.Info("Service stopped")
}

// openStore opens the configured segment store
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pg, err := store.OpenPostgres(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.Migrate(connectCtx); err != nil {
				pg.Close()
				return nil, err
			}
			logger.Info("Database schema migrated")
		}
		logger.Info("Using PostgreSQL segment store")
		return pg, nil
	default:
		logger.Info("Using in-memory segment store")
		return store.NewMemory(), nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
