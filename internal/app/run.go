package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/brokerconf/internal/ctxlog"
)

// Run boots the model and serves the management endpoint until ctx is
// cancelled. In check mode it returns right after the model booted.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	engine, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	a.setup(ctx, engine)
	defer func() {
		if shutdownErr := a.ctrl.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to stop services: %w", shutdownErr))
		}
	}()

	if err := a.boot(ctx); err != nil {
		return err
	}
	if a.config.Check {
		a.logger.Info("✅ Model is valid.", "path", a.config.ModelPath)
		return nil
	}

	if err := a.startManagementServer(ctx); err != nil {
		return err
	}
	close(a.ready)

	<-ctx.Done()
	a.logger.Info("Shutdown requested.")
	if err := a.closeManagementServer(ctx); err != nil {
		return err
	}
	a.logger.Info("🏁 Stopped.")
	return nil
}
