package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"email-classifier/internal/artifact"
	"email-classifier/internal/cache"
	"email-classifier/internal/config"
	"email-classifier/internal/handler"
	"email-classifier/internal/jobs"
	"email-classifier/internal/logger"
	"email-classifier/internal/metrics"
	"email-classifier/internal/models"
	"email-classifier/internal/notify"
	"email-classifier/internal/pipeline"
	"email-classifier/internal/repository"
	"email-classifier/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "1.0.0"

func newRootCmd() *cobra.Command {
	var settingsPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "serve email classification and background training over HTTP",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(settingsPath)
			if err != nil {
				return err
			}
			log, err := logger.New(settings.Logging.Level, settings.Logging.Format)
			if err != nil {
				return err
			}
			serve(settings, log)
			return nil
		},
	}
	cmd.Flags().StringVar(&settingsPath, "config", "", "service settings file (default: configs/server.yml)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func serve(settings *config.Settings, log *zap.Logger) {
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting email classifier service...", zap.String("version", version))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Job store
	if settings.Database.Driver == repository.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(settings.Database.DSN), 0o755); err != nil {
			log.Fatal("Failed to create data directory", zap.Error(err))
		}
	}
	db, err := repository.Open(settings.Database.Driver, settings.Database.DSN, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := repository.Migrate(db, log); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}
	jobRepo := repository.NewJobRepository(db, log)

	// Caches
	configs, err := config.NewCache(32)
	if err != nil {
		log.Fatal("Failed to create config cache", zap.Error(err))
	}
	modelCache, err := artifact.NewCache(settings.Serving.ModelCacheSize)
	if err != nil {
		log.Fatal("Failed to create model cache", zap.Error(err))
	}
	var predictions cache.PredictionCache
	if settings.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, settings.Redis.Addr, settings.Redis.Password, settings.Redis.DB, settings.Redis.TTL, log)
		if err != nil {
			log.Fatal("Failed to initialize Redis cache", zap.Error(err))
		}
		defer rc.Close()
		predictions = rc
	} else {
		lru, err := cache.NewLRU(settings.Serving.PredictionSize)
		if err != nil {
			log.Fatal("Failed to create prediction cache", zap.Error(err))
		}
		predictions = lru
	}

	m := metrics.New()
	factory := &pipeline.Factory{
		Models:        modelCache,
		SearchWorkers: settings.Jobs.SearchWorkers,
		Logger:        log,
	}
	if dir := settings.Serving.ArtifactDir; dir != "" {
		factory.NewStore = func(pipeline.Tracker) (artifact.Store, error) {
			return artifact.NewFileStore(dir), nil
		}
	}

	classifier := service.NewClassifier(settings.Serving.ConfigPath, configs, factory,
		service.WithModelCache(modelCache),
		service.WithPredictionCache(predictions),
		service.WithMetrics(m),
		service.WithLogger(log))

	// Telegram notifications are optional
	var notifier notify.Notifier = notify.Nop{}
	if n, err := notify.NewTelegram(settings.Telegram.BotToken, settings.Telegram.ChatID, log); err != nil {
		log.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
	} else {
		notifier = n
	}

	queue := jobs.NewQueue(jobRepo, configs, factory, settings.Jobs.QueueSize,
		jobs.WithWorkers(settings.Jobs.Workers),
		jobs.WithNotifier(notifier),
		jobs.WithMetrics(m),
		jobs.WithLogger(log),
		jobs.OnDone(func(job *models.Job) {
			if !job.Promoted || !sameFile(job.ConfigPath, settings.Serving.ConfigPath) {
				return
			}
			if _, err := classifier.Reload(context.Background()); err != nil {
				log.Warn("Failed to reload promoted model", zap.String("job_id", job.ID), zap.Error(err))
			}
		}))
	if err := queue.Start(ctx); err != nil {
		log.Fatal("Failed to start training queue", zap.Error(err))
	}

	if _, err := classifier.Reload(ctx); err != nil {
		log.Warn("No serving model loaded yet; /inference fails until one is trained", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	h := handler.NewHandler(handler.Options{
		Classifier: classifier,
		Jobs:       queue,
		Metrics:    m,
		JWTSecret:  []byte(settings.Auth.JWTSecret),
		Version:    version,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:         settings.Server.Addr(),
		Handler:      h.Router(),
		ReadTimeout:  settings.Server.ReadTimeout,
		WriteTimeout: settings.Server.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	log.Info("Server starting", zap.String("address", srv.Addr))

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		log.Warn("Training jobs still running at shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func sameFile(a, b string) bool {
	ap, err1 := filepath.Abs(a)
	bp, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return ap == bp
}
