package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalReceived is the cancellation cause recorded when a signal ends the run.
type SignalReceived struct {
	Signal os.Signal
}

func (s SignalReceived) Error() string {
	return "received " + s.Signal.String()
}

// NotifyShutdown returns a context cancelled by the first SIGINT or SIGTERM.
// After that signal the default handlers are restored, so a second one
// terminates the process without waiting for the drain.
func NotifyShutdown(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	release := func() { signal.Stop(sigCh) }
	ctx, cancel := WatchSignals(parent, logger, sigCh, release)
	return ctx, func() {
		release()
		cancel()
	}
}

// WatchSignals cancels the returned context with SignalReceived on the first
// value from sigCh, then calls afterFirst if it is set.
func WatchSignals(parent context.Context, logger *slog.Logger, sigCh <-chan os.Signal, afterFirst func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down; send again to force exit", "signal", sig.String())
			cancel(SignalReceived{Signal: sig})
			if afterFirst != nil {
				afterFirst()
			}
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}
