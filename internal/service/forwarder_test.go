package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
)

type fakeSession struct {
	mu         sync.Mutex
	calls      []string
	sent       []sentMessage
	connectErr error
	sendErr    error
	releaseErr error
	releases   int
	events     chan domain.InboundEvent
	subscribed chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan domain.InboundEvent, 8), subscribed: make(chan struct{})}
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSession) Connect(context.Context) error {
	f.record("connect")
	return f.connectErr
}

func (f *fakeSession) Identity(context.Context) (domain.Identity, error) {
	f.record("identity")
	return domain.Identity{ID: 99, FirstName: "Relay"}, nil
}

func (f *fakeSession) SendText(_ context.Context, destination string, text string) error {
	f.record("send")
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{destination: destination, text: text})
	f.mu.Unlock()
	return f.sendErr
}

func (f *fakeSession) Subscribe(_ context.Context, source string) (<-chan domain.InboundEvent, error) {
	f.record("subscribe:" + source)
	close(f.subscribed)
	return f.events, nil
}

func (f *fakeSession) Release(context.Context) error {
	f.record("release")
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
	return f.releaseErr
}

func (f *fakeSession) snapshot() ([]string, []sentMessage, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]sentMessage(nil), f.sent...), f.releases
}

func newTestForwarder(session *fakeSession) *Forwarder {
	relay := NewRelayService(discardLogger(), session, RelayOptions{Destination: "@dest", MaxInFlight: 1})
	return NewForwarder(discardLogger(), session, relay, ForwarderOptions{
		SourceChat:      "@source",
		DestinationChat: "@dest",
		OnlineMessage:   "online",
	})
}

func TestForwarderAnnouncesOnceBeforeSubscribing(t *testing.T) {
	session := newFakeSession()
	forwarder := newTestForwarder(session)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- forwarder.Run(ctx) }()

	<-session.subscribed
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	calls, sent, releases := session.snapshot()
	want := []string{"connect", "identity", "send", "subscribe:@source", "release"}
	if len(calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, calls)
		}
	}
	if len(sent) != 1 || sent[0].text != "online" || sent[0].destination != "@dest" {
		t.Fatalf("expected one online announcement to @dest, got %+v", sent)
	}
	if releases != 1 {
		t.Fatalf("expected exactly 1 release, got %d", releases)
	}
}

func TestForwarderAnnouncementFailureIsNotFatal(t *testing.T) {
	session := newFakeSession()
	session.sendErr = errors.New("chat write forbidden")
	forwarder := newTestForwarder(session)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- forwarder.Run(ctx) }()

	select {
	case <-session.subscribed:
	case <-time.After(time.Second):
		t.Fatalf("expected subscription after failed announcement")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestForwarderRelaysUntilCancelled(t *testing.T) {
	session := newFakeSession()
	forwarder := newTestForwarder(session)

	session.events <- domain.InboundEvent{MessageID: 1, Text: " one "}
	session.events <- domain.InboundEvent{MessageID: 2, Text: "mine", Outgoing: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- forwarder.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		stats := forwarder.relay.Stats()
		if stats.Received == 2 && stats.Relayed+stats.Skipped == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for relay, stats %+v", stats)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	_, sent, _ := session.snapshot()
	if len(sent) != 2 || sent[1].text != "one" {
		t.Fatalf("expected announcement then one, got %+v", sent)
	}
}

func TestForwarderConnectFailureIsFatalWithoutRelease(t *testing.T) {
	session := newFakeSession()
	session.connectErr = errors.New("unauthorized")
	forwarder := newTestForwarder(session)

	err := forwarder.Run(context.Background())
	if err == nil || !errors.Is(err, session.connectErr) {
		t.Fatalf("expected wrapped connect error, got %v", err)
	}
	_, sent, releases := session.snapshot()
	if len(sent) != 0 || releases != 0 {
		t.Fatalf("expected no sends and no release, got sent=%d releases=%d", len(sent), releases)
	}
}

func TestForwarderStopDuringConnectIsClean(t *testing.T) {
	session := newFakeSession()
	session.connectErr = context.Canceled
	forwarder := newTestForwarder(session)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := forwarder.Run(ctx); err != nil {
		t.Fatalf("expected shutdown during startup to be clean, got %v", err)
	}
	calls, _, releases := session.snapshot()
	if len(calls) != 1 || calls[0] != "connect" || releases != 0 {
		t.Fatalf("expected only a connect attempt, got calls=%v releases=%d", calls, releases)
	}
}

func TestForwarderReleasesWhenStreamEnds(t *testing.T) {
	session := newFakeSession()
	close(session.events)
	forwarder := newTestForwarder(session)

	err := forwarder.Run(context.Background())
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if _, _, releases := session.snapshot(); releases != 1 {
		t.Fatalf("expected exactly 1 release, got %d", releases)
	}
}

func TestWhoamiReleasesSession(t *testing.T) {
	session := newFakeSession()
	identity, err := Whoami(context.Background(), discardLogger(), session)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if identity.DisplayName() != "Relay" {
		t.Fatalf("expected Relay, got %q", identity.DisplayName())
	}
	if _, _, releases := session.snapshot(); releases != 1 {
		t.Fatalf("expected 1 release, got %d", releases)
	}
}

func TestWhoamiLogsReleaseFailure(t *testing.T) {
	session := newFakeSession()
	session.releaseErr = errors.New("wait for update loop: deadline exceeded")

	var logs bytes.Buffer
	identity, err := Whoami(context.Background(), slog.New(slog.NewJSONHandler(&logs, nil)), session)
	if err != nil {
		t.Fatalf("expected release failure not to fail whoami, got %v", err)
	}
	if identity.ID != 99 {
		t.Fatalf("expected identity 99, got %+v", identity)
	}
	out := logs.String()
	if !strings.Contains(out, "release session failed") || !strings.Contains(out, "deadline exceeded") {
		t.Fatalf("expected release failure to be logged, got %s", out)
	}
}
