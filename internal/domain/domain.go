package domain

import (
	"strconv"
	"strings"
)

const NonTextPlaceholder = "<non-text message>"

const NoUsernamePlaceholder = "no-username"

// InboundEvent is one new message observed on the source chat.
type InboundEvent struct {
	MessageID int64
	ChatID    int64
	Text      string
	// Outgoing marks messages sent by the authenticated account itself.
	Outgoing bool
}

type Identity struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

func (i Identity) DisplayName() string {
	parts := make([]string, 0, 2)
	for _, part := range []string{i.FirstName, i.LastName} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return strconv.FormatInt(i.ID, 10)
	}
	return strings.Join(parts, " ")
}

func (i Identity) UsernameOrPlaceholder() string {
	if i.Username == "" {
		return NoUsernamePlaceholder
	}
	return i.Username
}

// ChatRef is a parsed chat reference: either a numeric id or a public
// @username.
type ChatRef struct {
	ID       int64
	Username string
}

func ParseChatRef(raw string) ChatRef {
	trimmed := strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return ChatRef{ID: id}
	}
	trimmed = strings.TrimPrefix(trimmed, "https://t.me/")
	trimmed = strings.TrimPrefix(trimmed, "t.me/")
	return ChatRef{Username: strings.ToLower(strings.TrimPrefix(trimmed, "@"))}
}

func (r ChatRef) IsNumeric() bool {
	return r.Username == ""
}

// Handle renders the reference the way the Bot API accepts it as chat_id.
func (r ChatRef) Handle() string {
	if r.IsNumeric() {
		return strconv.FormatInt(r.ID, 10)
	}
	return "@" + r.Username
}
