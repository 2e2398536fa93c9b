package notify

import (
	"context"
	"fmt"
	"net/http"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender posts operator notifications to a Telegram chat through the
// Bot API's sendMessage method.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string // overridable in tests
	client  *http.Client
}

// NewTelegramSender creates a sender for the given bot token and chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPIBase,
		client:  newHTTPClient(),
	}
}

// Send delivers the notification with a bold title.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, t.Name(),
		fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token),
		map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n%s", title, message),
			"parse_mode": "Markdown",
		})
}

func (t *TelegramSender) Name() string { return "telegram" }
