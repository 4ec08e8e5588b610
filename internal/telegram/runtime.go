package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
	"github.com/hanamilabs/tg-forwarder/internal/ports"
)

const (
	defaultPollTimeout = 50
	requestSlack       = 20 * time.Second
)

var allowedUpdates = []string{"message", "channel_post"}

type Options struct {
	Token       string
	APIEndpoint string
	SessionName string
	// PollTimeout is the long-poll wait in seconds.
	PollTimeout int
}

// Client is a Bot API session implementing ports.SessionClient.
type Client struct {
	logger *slog.Logger
	peers  ports.PeerStore
	opts   Options

	mu   sync.Mutex
	bot  *tgbotapi.BotAPI
	self domain.Identity

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

var setLoggerOnce sync.Once

func NewClient(logger *slog.Logger, peers ports.PeerStore, opts Options) *Client {
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	setLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(botLogger{logger: logger.With("component", "tgbotapi")})
	})
	return &Client{logger: logger, peers: peers, opts: opts, done: make(chan struct{})}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: time.Duration(c.opts.PollTimeout)*time.Second + requestSlack}
	bot, err := tgbotapi.NewBotAPIWithClient(c.opts.Token, c.opts.APIEndpoint, httpClient)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	self := identityFromUser(bot.Self)
	c.mu.Lock()
	c.bot = bot
	c.self = self
	c.mu.Unlock()

	if c.peers != nil {
		c.checkPreviousAccount(ctx, self)
		if err := c.peers.SaveAccount(ctx, c.opts.SessionName, self); err != nil {
			c.logger.Warn("save session account failed", "session", c.opts.SessionName, "error", err)
		}
	}
	return nil
}

// checkPreviousAccount warns when the session was last used by another account.
func (c *Client) checkPreviousAccount(ctx context.Context, self domain.Identity) {
	previous, ok, err := c.peers.LoadAccount(ctx, c.opts.SessionName)
	if err != nil {
		c.logger.Warn("load session account failed", "session", c.opts.SessionName, "error", err)
		return
	}
	if ok && previous.ID != self.ID {
		c.logger.Warn("session now belongs to a different account",
			"session", c.opts.SessionName,
			"previous_account_id", previous.ID,
			"previous_username", previous.UsernameOrPlaceholder(),
			"account_id", self.ID,
		)
	}
}

func (c *Client) Identity(ctx context.Context) (domain.Identity, error) {
	bot, err := c.session()
	if err != nil {
		return domain.Identity{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	user, err := bot.GetMe()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("telegram getMe: %w", err)
	}
	return identityFromUser(user), nil
}

func (c *Client) SendText(ctx context.Context, destination string, text string) error {
	bot, err := c.session()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ref := domain.ParseChatRef(destination)
	var msg tgbotapi.MessageConfig
	if ref.IsNumeric() {
		msg = tgbotapi.NewMessage(ref.ID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(ref.Handle(), text)
	}
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage to %s: %w", ref.Handle(), err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, source string) (<-chan domain.InboundEvent, error) {
	bot, err := c.session()
	if err != nil {
		return nil, err
	}
	matcher := c.resolveSource(ctx, source)

	offset, err := c.skipPending(bot)
	if err != nil {
		return nil, fmt.Errorf("skip pending updates: %w", err)
	}
	config := tgbotapi.NewUpdate(offset)
	config.Timeout = c.opts.PollTimeout
	config.AllowedUpdates = allowedUpdates
	updates := bot.GetUpdatesChan(config)

	c.mu.Lock()
	selfID := c.self.ID
	c.mu.Unlock()

	out := make(chan domain.InboundEvent)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		for {
			var update tgbotapi.Update
			var ok bool
			select {
			case <-c.done:
				return
			case update, ok = <-updates:
				if !ok {
					return
				}
			}

			msg := update.Message
			if msg == nil {
				msg = update.ChannelPost
			}
			if msg == nil || !matcher.matches(msg.Chat) {
				continue
			}
			c.learnSource(matcher, msg.Chat)

			select {
			case out <- toInboundEvent(msg, selfID):
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

// skipPending confirms every update queued while no one was polling and
// returns the offset of the first update that arrives after it.
func (c *Client) skipPending(bot *tgbotapi.BotAPI) (int, error) {
	pending, err := bot.GetUpdates(tgbotapi.UpdateConfig{Offset: -1, Limit: 1, AllowedUpdates: allowedUpdates})
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	last := pending[len(pending)-1].UpdateID
	c.logger.Info("skipped updates queued before start", "last_update_id", last)
	return last + 1, nil
}

// Release stops long polling and drops idle connections. Safe to call more
// than once.
func (c *Client) Release(ctx context.Context) error {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return nil
	}

	c.stopOnce.Do(func() {
		bot.StopReceivingUpdates()
		close(c.done)
	})

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("wait for update loop: %w", ctx.Err())
	}

	if httpClient, ok := bot.Client.(*http.Client); ok {
		httpClient.CloseIdleConnections()
	}
	return nil
}

func (c *Client) session() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil {
		return nil, fmt.Errorf("telegram session not connected")
	}
	return c.bot, nil
}

func toInboundEvent(msg *tgbotapi.Message, selfID int64) domain.InboundEvent {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	event := domain.InboundEvent{
		MessageID: int64(msg.MessageID),
		Text:      text,
		Outgoing:  msg.From != nil && selfID != 0 && msg.From.ID == selfID,
	}
	if msg.Chat != nil {
		event.ChatID = msg.Chat.ID
	}
	return event
}

func identityFromUser(user tgbotapi.User) domain.Identity {
	return domain.Identity{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Username:  user.UserName,
	}
}

type botLogger struct {
	logger *slog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
