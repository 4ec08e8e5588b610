package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
	"github.com/hanamilabs/tg-forwarder/internal/ports"
)

var ErrStreamClosed = errors.New("inbound message stream closed")

type RelayOptions struct {
	Destination        string
	ForwardOwnMessages bool
	MaxInFlight        int
	PreserveOrder      bool
}

type RelayStats struct {
	Received int64 `json:"received"`
	Relayed  int64 `json:"relayed"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
}

type RelayService struct {
	logger *slog.Logger
	sender ports.TextSender
	opts   RelayOptions
	queue  *KeyedQueue

	received atomic.Int64
	relayed  atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

func NewRelayService(logger *slog.Logger, sender ports.TextSender, opts RelayOptions) *RelayService {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	return &RelayService{
		logger: logger,
		sender: sender,
		opts:   opts,
		queue:  NewKeyedQueue(),
	}
}

// Run handles events until ctx is cancelled or the stream ends. Handlers
// already started are waited for; their sends are not cancelled by ctx.
func (s *RelayService) Run(ctx context.Context, events <-chan domain.InboundEvent) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	sendCtx := context.WithoutCancel(ctx)
	workers := make(chan struct{}, s.opts.MaxInFlight)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamClosed
			}

			select {
			case workers <- struct{}{}:
			case <-ctx.Done():
				s.logger.Warn("dropping message received during shutdown", "message_id", event.MessageID)
				return nil
			}

			var turn *Turn
			if s.opts.PreserveOrder {
				turn = s.queue.Reserve(s.opts.Destination)
			}
			wg.Add(1)
			go func(ev domain.InboundEvent, turn *Turn) {
				defer wg.Done()
				defer func() { <-workers }()
				s.handle(sendCtx, ev, turn)
			}(event, turn)
		}
	}
}

// HandleEvent relays a single event. Delivery failures are logged and
// swallowed.
func (s *RelayService) HandleEvent(ctx context.Context, event domain.InboundEvent) {
	s.handle(ctx, event, nil)
}

func (s *RelayService) handle(ctx context.Context, event domain.InboundEvent, turn *Turn) {
	defer turn.Done()
	s.received.Add(1)
	s.logger.Info("detected message",
		"message_id", event.MessageID,
		"chat_id", event.ChatID,
		"text", arrivalText(event.Text),
	)

	text, ok := Decide(event, s.opts.ForwardOwnMessages)
	if !ok {
		s.skipped.Add(1)
		s.logger.Debug("skipping own outgoing message", "message_id", event.MessageID)
		// Hold the turn until earlier sends finish so later ones stay behind them.
		_ = turn.Wait(ctx)
		return
	}

	if err := turn.Wait(ctx); err != nil {
		s.failed.Add(1)
		s.logger.Error("relay send aborted", "message_id", event.MessageID, "destination", s.opts.Destination, "error", err)
		return
	}

	if err := s.sender.SendText(ctx, s.opts.Destination, text); err != nil {
		s.failed.Add(1)
		s.logger.Error("relay send failed",
			"message_id", event.MessageID,
			"destination", s.opts.Destination,
			"error", err,
		)
		return
	}
	s.relayed.Add(1)
	s.logger.Info("relayed message",
		"message_id", event.MessageID,
		"chat_id", event.ChatID,
		"destination", s.opts.Destination,
	)
}

func (s *RelayService) Stats() RelayStats {
	return RelayStats{
		Received: s.received.Load(),
		Relayed:  s.relayed.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
	}
}
