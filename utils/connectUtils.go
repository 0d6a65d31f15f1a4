package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Quit blocks until ctx is done, then gives close up to grace to finish.
func Quit(ctx context.Context, serviceName string, grace time.Duration, close func(context.Context) error) error {
	<-ctx.Done()
	logrus.WithField("service", serviceName).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := close(shutdownCtx); err != nil {
		logrus.WithError(err).WithField("service", serviceName).Error("shutdown incomplete")
		return err
	}
	return nil
}
