package service

import (
	"strings"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
)

// Decide reports whether event should be relayed and the text to send.
func Decide(event domain.InboundEvent, forwardOwnMessages bool) (string, bool) {
	if event.Outgoing && !forwardOwnMessages {
		return "", false
	}
	return payloadText(event.Text), true
}

func payloadText(raw string) string {
	body := strings.TrimSpace(raw)
	if body == "" {
		return domain.NonTextPlaceholder
	}
	return body
}

func arrivalText(raw string) string {
	if raw == "" {
		return domain.NonTextPlaceholder
	}
	return raw
}
