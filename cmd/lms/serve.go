package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"lms/internal/clock"
	"lms/internal/database"
	"lms/internal/handlers"
	"lms/internal/reporting"
	"lms/internal/services"
	"lms/internal/storage"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	if migrate {
		if err := database.Migrate(a.db); err != nil {
			return err
		}
	}

	var covers storage.ObjectStore
	if a.cfg.MinioEndpoint != "" {
		store, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  a.cfg.MinioEndpoint,
			AccessKey: a.cfg.MinioAccessKey,
			SecretKey: a.cfg.MinioSecretKey,
			Bucket:    a.cfg.MinioBucket,
			UseSSL:    a.cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		covers = store
	} else {
		slog.Warn("minio endpoint not set; cover uploads are disabled")
	}

	lifecycle, err := a.lifecycle()
	if err != nil {
		return err
	}
	reports, err := reporting.New(a.db)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.Deps{
		Lifecycle:     lifecycle,
		Catalog:       services.NewCatalogService(a.db, a.repos, covers, a.cfg.CoverURLExpiry),
		Membership:    services.NewMembershipService(a.db, a.repos, a.tokens),
		Notifications: services.NewNotificationService(a.db, a.repos),
		Reports:       reports,
		Tokens:        a.tokens,
		Clock:         clock.SystemClock{},
		Metrics:       a.metrics,
	})

	srv := &http.Server{
		Addr:         a.cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", a.cfg.ServerAddr, "driver", a.cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
