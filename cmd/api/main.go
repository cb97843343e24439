// Command api serves the wndmngr backend: the auth gate in front of the
// dashboard and data API, the Entra ID login flow and health probes.
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

	"go.uber.org/zap"

	"github.com/wndmngr/backend/app"
	"github.com/wndmngr/backend/config"
	"github.com/wndmngr/backend/routes"
)

const startupTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	cfg, err := config.New(startupCtx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := config.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.Server.Address()),
		zap.String("auth_mode", string(cfg.Auth.Mode)))

	deps, err := app.NewDependencies(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failure", zap.Error(err))
		return err
	}

	server := newServer(cfg.Server, routes.SetupRoutes(deps))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("address", server.Addr),
			zap.Bool("tls", cfg.Server.TLS.Enabled))
		serverErr <- serve(server, cfg.Server.TLS)
	}()

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("dependency shutdown error", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}

	logger.Info("server stopped")
	return runErr
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// serve blocks until the server stops. A graceful shutdown returns nil.
func serve(server *http.Server, tls config.TLSConfig) error {
	var err error
	if tls.Enabled {
		err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
