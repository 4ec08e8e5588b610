package ports

import (
	"context"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
)

// SessionClient is the authenticated chat session the forwarder drives.
type SessionClient interface {
	Connect(ctx context.Context) error
	Identity(ctx context.Context) (domain.Identity, error)
	SendText(ctx context.Context, destination string, text string) error
	// Subscribe returns new messages from source. The channel is closed
	// once the session is released.
	Subscribe(ctx context.Context, source string) (<-chan domain.InboundEvent, error)
	Release(ctx context.Context) error
}

type TextSender interface {
	SendText(ctx context.Context, destination string, text string) error
}

type PeerStore interface {
	LookupPeer(ctx context.Context, username string) (int64, bool, error)
	RememberPeer(ctx context.Context, username string, chatID int64) error
	SaveAccount(ctx context.Context, sessionName string, identity domain.Identity) error
	LoadAccount(ctx context.Context, sessionName string) (domain.Identity, bool, error)
}
