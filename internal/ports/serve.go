package ports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Serve runs server on listener until ctx is done, then shuts it down.
// It returns only after in-flight requests have drained or shutdownTimeout has passed.
func Serve(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *slog.Logger) error {
	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.InfoContext(ctx, "Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		shutdownDone <- server.Shutdown(shutdownCtx)
	}()

	err := server.Serve(listener)
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	err = <-shutdownDone
	if err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	logger.InfoContext(ctx, "Server shutdown")
	return nil
}
