// Command taskapi serves the task API the CLI talks to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmanagement/config"
	"taskmanagement/stubapi"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.StandardLogger()
	deps, err := openBackend(ctx, cfg.Server, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer deps.Close()

	auth, closeAuth, err := stubapi.NewAuthenticator(ctx, cfg.Server.Auth, cfg.Client.TokenSubject)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	defer closeAuth()

	srv := stubapi.NewServer(deps.repo,
		stubapi.WithDeduper(deps.deduper),
		stubapi.WithPublisher(deps.events),
		stubapi.WithLogger(logger),
		stubapi.WithPageSize(cfg.Server.PageSize),
	)
	e := stubapi.NewEcho(srv, auth)

	go func() {
		logger.WithFields(log.Fields{
			"addr":    cfg.Server.Addr,
			"storage": cfg.Server.Storage,
			"auth":    cfg.Server.Auth.Mode,
		}).Info("listening")
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown")
	}
}
