package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"safestreets/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Serve the JSON API under /api and, when staticDir is set, the web client.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(os.Stdout)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.New(server.Config{
		App:                     rt.app,
		RedisAddr:               rt.cfg.RedisAddr,
		RedisPassword:           rt.cfg.RedisPassword,
		WriteRateLimitPerMinute: rt.cfg.WriteRateLimitPerMinute,
		TrustedProxies:          rt.cfg.TrustedProxies,
		StaticDir:               rt.cfg.StaticDir,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              ":" + rt.cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("safestreets listening", "addr", httpServer.Addr, "backend", rt.cfg.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
