package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"triad/internal/config"
	"triad/internal/coordinator"
	"triad/internal/daemon"
	"triad/internal/deps"
	"triad/internal/logging"
	"triad/internal/media"
	"triad/internal/media/ffmpeg"
	"triad/internal/monitor"
	"triad/internal/notifications"
	"triad/internal/pipeline"
	"triad/internal/publisher"
	"triad/internal/queue"
	"triad/internal/services/drapto"
	"triad/internal/store"
	"triad/internal/upload"
	"triad/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	LogFormat   string
	Development bool
}

// Run starts the triad daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	format := cfg.Logging.Format
	if strings.TrimSpace(opts.LogFormat) != "" {
		format = opts.LogFormat
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      format,
		FilePath:    filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.StateDir, "triadd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	d, err := build(signalCtx, cfg, st, logger)
	if err != nil {
		st.Close()
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, the lock file, and database access"),
			logging.String(logging.FieldImpact, "no uploads or merges are accepted"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("triad daemon shutting down")
	return nil
}

// build wires every service around an opened store.
func build(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	notifier := notifications.NewService(cfg)

	uploads, err := upload.NewService(cfg, st, logger)
	if err != nil {
		return nil, fmt.Errorf("create upload service: %w", err)
	}
	objects, err := publisher.NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create object store: %w", err)
	}
	pub := publisher.NewService(cfg, objects, st, logger)

	processor := ffmpeg.New(cfg.FFmpegBinary(), cfg.FFprobeBinary())
	var encoder media.Encoder = processor
	if cfg.Merge.Encoder == config.EncoderDrapto {
		encoder = drapto.NewEncoder(logger)
	}

	gov := queue.NewGovernor(cfg.Queue.CompressionSlots)
	mgr := workflow.NewManager(cfg, st, queue.New(), gov, logger)
	if err := mgr.ConfigureStages(pipeline.NewStageSet(cfg, pipeline.Deps{
		Processor: processor,
		Encoder:   encoder,
		Slots:     gov,
		Publisher: pub,
	}, logger)); err != nil {
		return nil, fmt.Errorf("configure stages: %w", err)
	}

	coord, err := coordinator.New(cfg, st, uploads, mgr, notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	mon := monitor.New(cfg, st, notifier, logger)

	uploads.SetListener(coord)
	mgr.SetResultHandler(coord)
	mgr.SetRecorder(mon)

	d, err := daemon.New(cfg, daemon.Services{
		Store:       st,
		Uploads:     uploads,
		Coordinator: coord,
		Workflow:    mgr,
		Monitor:     mon,
		Publisher:   pub,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("encoder", cfg.Merge.Encoder),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	for _, status := range deps.CheckBinaries(deps.MergeRequirements(cfg)) {
		attrs = append(attrs,
			logging.Bool(strings.ToLower(status.Name)+"_available", status.Available),
		)
	}
	logger.Info("dependency snapshot", attrs...)
}
