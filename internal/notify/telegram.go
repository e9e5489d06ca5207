package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	telegramAPI = "https://api.telegram.org"
	// telegramMaxText is the sendMessage limit on text length.
	telegramMaxText = 4096
)

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// telegramReply is the Bot API envelope. A 200 can still carry ok=false.
type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramSender talks to one chat through the Bot API sendMessage method.
// Text goes out without a parse mode: market titles are full of Markdown
// metacharacters.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  newHTTPClient(),
	}
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	body, err := postJSON(ctx, t.client, t.Name(), endpoint, telegramMessage{
		ChatID:                t.chatID,
		Text:                  truncateRunes(title+"\n\n"+message, telegramMaxText),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	var reply telegramReply
	if len(body) == 0 || json.Unmarshal(body, &reply) != nil {
		return nil
	}
	if !reply.OK {
		return fmt.Errorf("telegram: sendMessage rejected: %s", reply.Description)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
