package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	infragin "github.com/ironscout/harvester/infrastructure/gin"
	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/scheduler"
)

const signalChannelBufferSize = 1

// Version is stamped at build time with -ldflags "-X ...bootstrap.Version=...".
var Version = "dev"

// RunUntilInterrupt runs the server until interrupted by signal or error.
func RunUntilInterrupt(
	log logger.Logger,
	server *infragin.Server,
	sched *scheduler.Scheduler,
	errChan <-chan error,
) error {
	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case serverErr, ok := <-errChan:
		sched.Stop()
		if !ok {
			return nil
		}
		log.Error("Server error", logger.Error(serverErr))
		return fmt.Errorf("server error: %w", serverErr)
	case sig := <-sigChan:
		return Shutdown(log, server, sched, sig)
	}
}

// Shutdown stops the tick loop first so no tick starts while the server
// drains, then shuts the server down.
func Shutdown(log logger.Logger, server *infragin.Server, sched *scheduler.Scheduler, sig os.Signal) error {
	log.Info("Shutdown signal received", logger.String("signal", sig.String()))

	sched.Stop()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error("Failed to stop HTTP server", logger.Error(err))
		return fmt.Errorf("shutdown server: %w", err)
	}

	log.Info("Harvester stopped")
	return nil
}
