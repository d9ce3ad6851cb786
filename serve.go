package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sitephoto/config"
	"sitephoto/duplicate"
	"sitephoto/logging"
	"sitephoto/metrics"
	"sitephoto/server"
	"sitephoto/signalhandler"
	"sitephoto/storage"
	"sitephoto/upload"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the image upload API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().String("host", "", "Listen host (default SERVER_HOST)")
	cmd.Flags().String("port", "", "Listen port (default SERVER_PORT)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	log := logging.L()
	cfg := a.cfg

	ctx, stop := signalhandler.SetupHandler(parent)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := newBlobStore(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	checker := duplicate.NewChecker(duplicate.SQLSource{DB: db}, duplicate.WithWindow(cfg.Upload.DuplicateWindow))
	svc := upload.NewService(store, db, log,
		upload.WithMaxUploadSize(cfg.Upload.MaxUploadSize),
		upload.WithChecker(checker),
		upload.WithMetrics(m),
	)

	srv := server.New(*cfg, server.Deps{Upload: svc, DB: db, Metrics: m}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}

	log.Info("Server exited")
	return nil
}

// newBlobStore builds the configured storage backend
func newBlobStore(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendS3:
		s3Store, err := storage.NewS3Store(ctx, cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("cannot create s3 store: %w", err)
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			log.Warn("Could not verify bucket", zap.String("bucket", cfg.S3.Bucket), zap.Error(err))
		}
		return s3Store, nil
	default:
		local, err := storage.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("cannot create local store: %w", err)
		}
		return local, nil
	}
}
