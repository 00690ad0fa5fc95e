// main package for the voiceclone-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/logger"

	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/ledger"
	"github.com/book-expert/voiceclone-service/internal/objectstore"
	"github.com/book-expert/voiceclone-service/internal/router"
	"github.com/book-expert/voiceclone-service/internal/synth"
	"github.com/book-expert/voiceclone-service/internal/timing"
	"github.com/book-expert/voiceclone-service/internal/voices"
	"github.com/book-expert/voiceclone-service/internal/worker"
)

const defaultHTTPTimeout = 120 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voiceclone-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	voiceStore, err := objectstore.New(jetstreamContext, cfg.NATS.VoiceBucket, cfg.NATS.SignedURLSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize voice bucket: %w", err)
	}

	artifactStore, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactBucket, cfg.NATS.SignedURLSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact bucket: %w", err)
	}

	jobs := ledger.New(cfg.Jobs.LedgerCapacity, time.Duration(cfg.Jobs.LedgerTTLSeconds)*time.Second)
	library := voices.New(voiceStore, defaultHTTPTimeout, log)

	synthesizer := synth.New(
		cfg.TTS.ServiceURL,
		time.Duration(cfg.TTS.TimeoutSeconds)*time.Second,
		cfg.TTS.NFEStep,
		cfg.TTS.CFGStrength,
		log,
	)

	pool := worker.NewPool(worker.PoolConfig{
		QueueCapacity: cfg.Jobs.QueueCapacity,
		Workers:       cfg.Jobs.Workers,
		Jobs:          jobs,
		Library:       library,
		Synthesizer:   synthesizer,
		Estimators:    buildEstimators(cfg, log),
		DefaultMethod: cfg.Timing.Method,
		Artifacts:     artifactStore,
		SignedTTL:     time.Duration(cfg.NATS.SignedURLTTLSeconds) * time.Second,
	}, log)

	routerInstance := router.New(router.Config{
		Jobs:          jobs,
		Library:       library,
		VoiceStore:    voiceStore,
		ArtifactStore: artifactStore,
		Parsers: []router.SignedReferenceParser{
			artifactStore,
			voiceStore,
		},
		Pool:         pool,
		DefaultSpeed: cfg.TTS.DefaultSpeed,
	}, log)

	natsWorker := worker.NewNatsWorker(natsConnection, cfg.NATS.RequestSubject, routerInstance, log)

	pool.Start(ctx)

	log.System(
		"Voiceclone-Service successfully initialized. Listening for requests on subject: %s",
		cfg.NATS.RequestSubject,
	)

	err = natsWorker.Run(ctx)

	pool.Wait()

	if err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	return nil
}

// buildEstimators registers the configured timing estimators. The heuristic
// estimator is always available; Whisper is added when a URL is configured
// and uses the heuristic as its fallback.
func buildEstimators(cfg *config.Config, log *logger.Logger) map[string]core.TimingEstimator {
	heuristic := timing.NewHeuristicEstimator()

	estimators := map[string]core.TimingEstimator{
		"heuristic": heuristic,
	}

	if cfg.Timing.WhisperURL != "" {
		estimators["whisper"] = timing.NewWhisperEstimator(
			cfg.Timing.WhisperURL,
			cfg.Timing.WhisperModel,
			cfg.Timing.Language,
			time.Duration(cfg.Timing.TimeoutSeconds)*time.Second,
			heuristic,
			log,
		)
	}

	return estimators
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
