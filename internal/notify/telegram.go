package notify

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/zapmcp/internal/config"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	telegramMaxText = 4096
)

// TelegramChannel sends notifications via the Telegram Bot API.
type TelegramChannel struct {
	cfg     config.TelegramConfig
	apiBase string
}

// NewTelegram creates a TelegramChannel from cfg.
func NewTelegram(cfg config.TelegramConfig) *TelegramChannel {
	return &TelegramChannel{cfg: cfg, apiBase: telegramAPIBase}
}

func (t *TelegramChannel) Name() string       { return "telegram" }
func (t *TelegramChannel) IsConfigured() bool { return t.cfg.BotToken != "" && t.cfg.ChatID != "" }

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *TelegramChannel) Send(ctx context.Context, evt Event) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.cfg.BotToken)
	p := newPoster("telegram", url)
	return p.post(ctx, telegramMessage{
		ChatID:                t.cfg.ChatID,
		Text:                  telegramText(evt),
		DisableWebPagePreview: true,
	}, nil)
}

// telegramText renders evt as plain text within Telegram's message limit.
func telegramText(evt Event) string {
	text := evt.Title
	if evt.Body != "" {
		text += "\n\n" + evt.Body
	}
	text += "\n\nscan " + evt.ScanID
	if len(text) > telegramMaxText {
		text = text[:telegramMaxText-3] + "..."
	}
	return text
}
