// Package notify implements the fire-and-forget operator notification
// channel spec.md §1 names as an external collaborator. Grounded on
// original_source/tgbot.py's TelegramBot.send: errors sending the
// notification are logged and swallowed, never propagated to the caller.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier is the operator notification channel. Send is fire-and-forget:
// implementations must never block the caller on a slow or failing
// notification path.
type Notifier interface {
	Send(msg string)
}

// Noop discards every notification; used in tests and when no token is
// configured.
type Noop struct{}

func (Noop) Send(string) {}

// Telegram sends messages via the Bot API's sendMessage call, mirroring
// original_source/tgbot.py's single-recipient "telegram_notify" target.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	log    *logrus.Entry
}

func NewTelegram(token, chatID string, log *logrus.Entry) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.WithField("component", "notify"),
	}
}

func (t *Telegram) Send(msg string) {
	if t.token == "" || t.chatID == "" {
		return
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	body, _ := json.Marshal(map[string]string{"chat_id": t.chatID, "text": msg, "parse_mode": "HTML"})
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.log.WithError(err).Warn("could not send telegram message")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		t.log.WithField("status", resp.StatusCode).Warn("telegram notify non-2xx response")
	}
}
