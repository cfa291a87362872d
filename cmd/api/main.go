package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"biohub.org/internal/access"
	"biohub.org/internal/auth"
	"biohub.org/internal/authz"
	"biohub.org/internal/config"
	"biohub.org/internal/httpapi"
	"biohub.org/internal/obs"
	"biohub.org/internal/project"
	"biohub.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()
	if err := run(); err != nil {
		log.WithError(err).Fatal("biohub-api exited")
	}
}

func run() error {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.DatabaseURL == "" {
		return errors.New("BIOHUB_PG_DSN is required")
	}
	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(store)
	if err != nil {
		return err
	}
	evaluator, err := authz.NewEvaluator(store.Participants())
	if err != nil {
		return err
	}
	projects, err := project.NewService(store)
	if err != nil {
		return err
	}
	requests, err := access.NewService(store, access.LogNotifier{})
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Verifier:       verifier,
		Auth:           authSvc,
		Evaluator:      evaluator,
		Projects:       projects,
		Access:         requests,
		Surveys:        store.Surveys(),
		Ready:          httpapi.ReadyProbe{DB: store},
		Version:        version,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSecond,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version, "oidc": cfg.UsesOIDC()}).Info("starting biohub-api")
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

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func buildVerifier(ctx context.Context, cfg *config.Config) (auth.TokenVerifier, error) {
	if cfg.UsesOIDC() {
		return auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	}
	return auth.NewHMACVerifier(cfg.TokenSecret, cfg.TokenIssuer)
}
