package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/facegate/internal/api"
	"github.com/andresmejia3/facegate/internal/auth"
	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the messaging API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if Cfg.UsesDevSecret() {
		logging.Warn().Msg("Using the built-in JWT secret, set JWT_SECRET before deploying")
	}

	face, err := newFaceClient()
	if err != nil {
		return fmt.Errorf("failed to configure face worker: %w", err)
	}
	tokens, err := auth.NewJWTManager(Cfg.Auth.JWTSecret, Cfg.Auth.JWTExpiresIn)
	if err != nil {
		return err
	}

	handler := api.NewHandler(DB, face, tokens, api.Options{
		UploadDir:      Cfg.Upload.Dir,
		MaxUploadBytes: Cfg.Upload.MaxBytes,
		BcryptCost:     Cfg.Auth.BcryptRounds,
		AllowedOrigins: Cfg.Server.AllowedOrigins,
		LoginRateLimit: Cfg.Server.LoginRateLimit,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", Cfg.Server.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().
			Str("addr", srv.Addr).
			Str("worker", Cfg.Worker.Command).
			Dur("worker_timeout", Cfg.Worker.Timeout).
			Msg("Server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("Shutting down")
		// The parent context is already cancelled here.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), Cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
