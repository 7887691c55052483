// Package app initializes and runs the travel journal service.
// It configures logging, storage, image storage, authentication and
// routing, and handles graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/wandernotes/internal/auth"
	"github.com/patric-chuzhbe/wandernotes/internal/config"
	"github.com/patric-chuzhbe/wandernotes/internal/db/jsondb"
	"github.com/patric-chuzhbe/wandernotes/internal/db/memorystorage"
	"github.com/patric-chuzhbe/wandernotes/internal/db/postgresdb"
	"github.com/patric-chuzhbe/wandernotes/internal/db/storage"
	"github.com/patric-chuzhbe/wandernotes/internal/imagecleaner"
	"github.com/patric-chuzhbe/wandernotes/internal/imagestore"
	"github.com/patric-chuzhbe/wandernotes/internal/ipchecker"
	"github.com/patric-chuzhbe/wandernotes/internal/logger"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/router"
	"github.com/patric-chuzhbe/wandernotes/internal/service"
)

const shutdownTimeout = 10 * time.Second

// App encapsulates the configuration, HTTP handler, storage backend
// and the background image cleaner.
type App struct {
	cfg               *config.Config
	db                storage.Storage
	imageCleaner      *imagecleaner.ImageCleaner
	stopImageCleaner  context.CancelFunc
	cleanupErrorsDone <-chan struct{}
	httpHandler       http.Handler
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up storage and image storage
// - starting the background image cleaner
// - setting up the router and middleware
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	images, err := getImageStore(app.cfg)
	if err != nil {
		return nil, err
	}

	checker, err := ipchecker.New(app.cfg.TrustedSubnet, app.cfg.TrustedProxies...)
	if err != nil {
		return nil, err
	}
	if checker.IsTrustedSubnetEmpty() {
		logger.Log.Warnw("no trusted subnet configured, /internal/stats rejects every client")
	}

	app.imageCleaner = imagecleaner.New(
		images,
		app.cfg.ImageCleanerQueueCapacity,
		app.cfg.ImageCleanerFlushInterval,
	)
	imageCleanerRunCtx, stopImageCleaner := context.WithCancel(context.Background())
	app.stopImageCleaner = stopImageCleaner

	app.imageCleaner.Run(imageCleanerRunCtx)
	app.cleanupErrorsDone = app.imageCleaner.ListenErrors(func(err error) {
		logger.Log.Warnw("image cleanup failed", zap.Error(err))
	})

	theAuth := auth.New([]byte(app.cfg.AccessTokenSecret), app.cfg.AccessTokenTTL)

	app.httpHandler = router.New(
		service.New(
			app.db,
			images,
			app.imageCleaner,
			theAuth,
			app.cfg.BaseURL,
			app.cfg.PlaceholderImageURL,
		),
		theAuth,
		checker,
		router.Options{
			AssetsDir:          app.cfg.AssetsDir,
			MaxUploadSize:      app.cfg.MaxUploadSize,
			AuthRateLimit:      app.cfg.AuthRateLimit,
			CORSAllowedOrigins: app.cfg.CORSAllowedOrigins,
		},
	)

	return app, nil
}

// Run starts the HTTP server with graceful shutdown support.
// It listens for system signals and cleans up resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infow("server running", "RunAddr", a.cfg.RunAddr, "BaseURL", a.cfg.BaseURL)

	server := &http.Server{
		Addr:              a.cfg.RunAddr,
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Flushing pending image cleanups and exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		a.stopImageCleaner()
		select {
		case <-a.cleanupErrorsDone:
		case <-shutdownCtx.Done():
			logger.Log.Warnln("image cleaner did not finish before the shutdown timeout")
		}

		return a.db.Close()

	case err := <-serverErrCh:
		a.stopImageCleaner()
		if errors.Is(err, http.ErrServerClosed) {
			return a.db.Close()
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage.Storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeFile:
		return jsondb.New(cfg.DBFileName)
	}

	return memorystorage.New()
}

func getImageStore(cfg *config.Config) (imagestore.Store, error) {
	if cfg.ImageStorage == models.ImageStorageS3 {
		return imagestore.NewS3(context.Background(), imagestore.S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		})
	}

	return imagestore.NewLocal(cfg.UploadsDir)
}
