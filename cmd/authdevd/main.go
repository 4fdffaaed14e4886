// authdevd is the development auth backend: the login, refresh and profile
// endpoints the client SDK talks to, backed by in-memory (or Redis) refresh
// token storage.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/villagestay/go-auth-client/devserver"
	"github.com/villagestay/go-auth-client/devserver/refreshrepo"
	"github.com/villagestay/go-auth-client/internal/config"
	"github.com/villagestay/go-auth-client/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadDevServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("authdevd", cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.DevServer, log zerolog.Logger) error {
	displayAppname(cfg.AppName)

	repo, cleanup, err := buildRefreshRepo(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	issuer, err := devserver.NewTokenIssuer(
		[]byte(cfg.JWTSecret),
		cfg.Issuer,
		devserver.WithAccessTTL(cfg.AccessTokenTTL),
	)
	if err != nil {
		return err
	}

	srv, err := devserver.NewServer(
		issuer,
		repo,
		devserver.WithServerLogger(log),
		devserver.WithRefreshTTL(cfg.RefreshTokenTTL),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: srv}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("listen failed")
		}
	}()

	waitForStopSignal()
	return shutdown(httpServer)
}

// buildRefreshRepo prefers Redis when configured and falls back to the
// in-memory repo otherwise.
func buildRefreshRepo(cfg config.DevServer, log zerolog.Logger) (refreshrepo.Repo, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("redis not configured, using in-memory refresh token store")
		return refreshrepo.NewInMemoryRepo(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repo, err := refreshrepo.NewRedisRepo(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis refresh token store")
	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis connection")
		}
	}, nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
