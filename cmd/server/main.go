package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"darts"
	"darts/internal/auth"
	"darts/internal/config"
	"darts/internal/delegation"
	"darts/internal/metrics"
	"darts/internal/play"
	"darts/internal/server"
	"darts/internal/storage"
	"darts/internal/storage/postgres"
)

// store is what both backends provide.
type store interface {
	play.Store
	auth.Store
	Close() error
}

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open database")
	}
	defer db.Close()

	m := metrics.New("darts")
	delegations := delegation.New()
	go delegations.CleanupLoop(ctx, cfg.Delegation.CleanupInterval)

	mgr := play.NewManager(play.Config{
		Registry:      play.NewRegistry(),
		Store:         db,
		Delegations:   delegations,
		DelegationTTL: cfg.Delegation.TTL,
		Metrics:       m,
	})
	tokens := &auth.Tokens{
		Secret:        []byte(cfg.Auth.JWTSecret),
		TTL:           cfg.Auth.TokenTTL,
		CookieName:    cfg.Auth.CookieName,
		SecureCookies: cfg.Auth.SecureCookies,
	}

	srv := server.New(server.Options{
		Manager:        mgr,
		Auth:           auth.NewService(db, tokens),
		Feed:           play.NewFeed(m),
		Metrics:        m,
		WebFS:          staticFS(cfg.Server.StaticDir),
		ClientOrigin:   cfg.Server.ClientOrigin,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address).Msg("darts server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	if cfg.Driver == "postgres" {
		return postgres.New(ctx, cfg.DSN)
	}
	return storage.New(cfg.Path)
}

// staticFS serves dir when it exists and the embedded front end otherwise.
func staticFS(dir string) fs.FS {
	if dir != "" {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return os.DirFS(dir)
		}
		log.Debug().Str("dir", dir).Msg("static directory missing, using embedded front end")
	}
	sub, err := fs.Sub(darts.WebFS, "web")
	if err != nil {
		log.Warn().Err(err).Msg("embedded front end unavailable")
		return nil
	}
	return sub
}
