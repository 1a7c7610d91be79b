package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/mgmtapi"
)

const shutdownTimeout = 5 * time.Second

// startManagementServer binds the listen address and serves the management
// endpoint in the background.
func (a *App) startManagementServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.config.Listen == "" {
		logger.Warn("Management endpoint not started: disabled")
		return nil
	}

	ln, err := net.Listen("tcp", a.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Listen, err)
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:           mgmtapi.New(a.ctrl, a.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🩺 Management endpoint starting", "address", fmt.Sprintf("http://%s/management", ln.Addr()))
		// Serve returns ErrServerClosed on graceful shutdown.
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Management endpoint failed unexpectedly", "error", err)
		}
	}()
	return nil
}

func (a *App) closeManagementServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.httpServer == nil {
		logger.Debug("Management endpoint was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	logger.Info("🩺 Shutting down management endpoint...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Management endpoint shutdown failed", "error", err)
		return err
	}
	logger.Debug("Management endpoint shut down gracefully.")
	return nil
}
