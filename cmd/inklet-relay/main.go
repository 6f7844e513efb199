// Command inklet-relay runs the realtime sync relay: the websocket hub that
// routes edits, cursors and presence between collaborators, plus the REST
// snapshot endpoints late joiners load documents from.
//
// Configuration is environment-only:
//
//	INKLET_ADDR          listen address (default ":8080")
//	INKLET_DATABASE_URL  postgres DSN; unset runs on an in-memory store
//	INKLET_LOG_LEVEL     zerolog level name (default "info")
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/inklet-io/inklet/pkg/logger"
	"github.com/inklet-io/inklet/pkg/logger/zero"
	"github.com/inklet-io/inklet/pkg/relay"
	"github.com/inklet-io/inklet/pkg/store"
	"github.com/inklet-io/inklet/pkg/store/memory"
	"github.com/inklet-io/inklet/pkg/store/postgres"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(envOr("INKLET_LOG_LEVEL", "info")); err == nil {
		zl = zl.Level(level)
	}
	log := zero.New(zl)

	docs, users, cleanup, err := buildStores(log)
	if err != nil {
		log.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	server := relay.NewServer(relay.Options{
		Store:  docs,
		Users:  users,
		Logger: log,
	})

	addr := envOr("INKLET_ADDR", ":8080")
	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe(addr)
	}()
	log.Info("relay listening", "addr", addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			log.Error("serving", "error", err)
			os.Exit(1)
		}
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutdown", "error", err)
			os.Exit(1)
		}
	}
}

// buildStores opens postgres when a DSN is configured and falls back to the
// in-memory store otherwise. Memory mode loses content on restart; it is
// meant for development.
func buildStores(log logger.Logger) (store.DocumentStore, store.UserDirectory, func(), error) {
	dsn := os.Getenv("INKLET_DATABASE_URL")
	if dsn == "" {
		log.Warn("no INKLET_DATABASE_URL set, documents will not survive a restart")
		mem := memory.New()
		return mem, mem, func() {}, nil
	}

	pg, err := postgres.New(dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := pg.Close(); err != nil {
			log.Warn("closing database", "error", err)
		}
	}
	return pg, pg, cleanup, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
