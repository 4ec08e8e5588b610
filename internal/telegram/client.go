package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
)

// chatMatcher recognises the source chat by id once known, and by public
// username until then.
type chatMatcher struct {
	id       int64
	username string
}

func (m *chatMatcher) matches(chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	if m.id != 0 && chat.ID == m.id {
		return true
	}
	return m.username != "" && strings.EqualFold(chat.UserName, m.username)
}

func (c *Client) resolveSource(ctx context.Context, source string) *chatMatcher {
	ref := domain.ParseChatRef(source)
	if ref.IsNumeric() {
		return &chatMatcher{id: ref.ID}
	}

	matcher := &chatMatcher{username: ref.Username}
	if c.peers != nil {
		chatID, ok, err := c.peers.LookupPeer(ctx, ref.Username)
		if err != nil {
			c.logger.Warn("peer cache lookup failed", "username", ref.Handle(), "error", err)
		} else if ok {
			matcher.id = chatID
			return matcher
		}
	}

	chatID, err := c.resolveUsername(ref)
	if err != nil {
		c.logger.Warn("resolve source chat failed; matching by username", "username", ref.Handle(), "error", err)
		return matcher
	}
	matcher.id = chatID
	c.rememberPeer(ctx, ref.Username, chatID)
	return matcher
}

func (c *Client) resolveUsername(ref domain.ChatRef) (int64, error) {
	bot, err := c.session()
	if err != nil {
		return 0, err
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: ref.Handle()},
	})
	if err != nil {
		return 0, err
	}
	return chat.ID, nil
}

// learnSource records the id of a source first matched by username.
func (c *Client) learnSource(matcher *chatMatcher, chat *tgbotapi.Chat) {
	if matcher.id != 0 || chat == nil || chat.ID == 0 {
		return
	}
	matcher.id = chat.ID
	c.rememberPeer(context.Background(), matcher.username, chat.ID)
}

func (c *Client) rememberPeer(ctx context.Context, username string, chatID int64) {
	if c.peers == nil {
		return
	}
	if err := c.peers.RememberPeer(ctx, username, chatID); err != nil {
		c.logger.Warn("peer cache update failed", "username", username, "error", err)
	}
}

func (c *Client) CheckConnectivity(ctx context.Context) error {
	_, err := c.Identity(ctx)
	return err
}
