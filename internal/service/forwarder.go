package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
	"github.com/hanamilabs/tg-forwarder/internal/ports"
)

const releaseTimeout = 10 * time.Second

type ForwarderOptions struct {
	SourceChat      string
	DestinationChat string
	OnlineMessage   string
}

// Forwarder drives one session from connect to release.
type Forwarder struct {
	logger *slog.Logger
	client ports.SessionClient
	relay  *RelayService
	opts   ForwarderOptions
}

func NewForwarder(logger *slog.Logger, client ports.SessionClient, relay *RelayService, opts ForwarderOptions) *Forwarder {
	return &Forwarder{logger: logger, client: client, relay: relay, opts: opts}
}

// Run blocks until ctx is cancelled. Only connection, identity and
// subscription failures are returned, and none of them once ctx is done; the
// session is released on every path once connected.
func (f *Forwarder) Run(ctx context.Context) error {
	if err := f.client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			f.logShutdown(ctx)
			return nil
		}
		return fmt.Errorf("connect session: %w", err)
	}
	defer f.release()

	identity, err := f.client.Identity(ctx)
	if err != nil {
		if ctx.Err() != nil {
			f.logShutdown(ctx)
			return nil
		}
		return fmt.Errorf("fetch account identity: %w", err)
	}
	f.logger.Info("logged in",
		"account", identity.DisplayName(),
		"username", identity.UsernameOrPlaceholder(),
		"source", f.opts.SourceChat,
	)

	f.announce(ctx)

	events, err := f.client.Subscribe(ctx, f.opts.SourceChat)
	if err != nil {
		if ctx.Err() != nil {
			f.logShutdown(ctx)
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", f.opts.SourceChat, err)
	}
	f.logger.Info("listening for messages", "source", f.opts.SourceChat, "destination", f.opts.DestinationChat)

	if err := f.relay.Run(ctx, events); err != nil {
		return err
	}
	f.logShutdown(ctx)
	return nil
}

func (f *Forwarder) logShutdown(ctx context.Context) {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		f.logger.Info("shutting down", "cause", cause)
		return
	}
	f.logger.Info("shutting down")
}

func (f *Forwarder) announce(ctx context.Context) {
	if err := f.client.SendText(ctx, f.opts.DestinationChat, f.opts.OnlineMessage); err != nil {
		f.logger.Error("send online status message failed", "destination", f.opts.DestinationChat, "error", err)
		return
	}
	f.logger.Info("sent online status message", "destination", f.opts.DestinationChat)
}

func (f *Forwarder) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := f.client.Release(ctx); err != nil {
		f.logger.Warn("release session failed", "error", err)
		return
	}
	f.logger.Info("session released")
}

// Whoami connects, reports the account and releases the session.
func Whoami(ctx context.Context, logger *slog.Logger, client ports.SessionClient) (domain.Identity, error) {
	if err := client.Connect(ctx); err != nil {
		return domain.Identity{}, fmt.Errorf("connect session: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := client.Release(releaseCtx); err != nil {
			logger.Warn("release session failed", "error", err)
		}
	}()
	return client.Identity(ctx)
}
