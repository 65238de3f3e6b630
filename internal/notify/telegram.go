package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Telegram pushes notifications through the Bot API. It also serves as the
// push transport for streamed responses: sends return the message id that
// later edits address.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *Telegram) Name() string { return "telegram" }

// Notify sends a structured notification to the configured chat.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	_, err := t.Send(ctx, t.ChatID, msg.RenderMarkdown())
	return err
}

// Send posts a message and returns its id, with up to 3 retries.
func (t *Telegram) Send(ctx context.Context, chatID, text string) (string, error) {
	if t.BotToken == "" {
		return "", fmt.Errorf("telegram bot token not configured")
	}
	if chatID == "" {
		chatID = t.ChatID
	}
	body, err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "result.message_id")
	if !id.Exists() {
		return "", fmt.Errorf("telegram sendMessage response has no message_id")
	}
	return id.String(), nil
}

// Edit rewrites a previously sent message in place.
func (t *Telegram) Edit(ctx context.Context, chatID, messageID, text string) error {
	if chatID == "" {
		chatID = t.ChatID
	}
	_, err := t.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	return err
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) ([]byte, error) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/%s", t.BotToken, method)
	reqBody, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, time.Duration(i+1)*time.Second) {
				return nil, ctx.Err()
			}
			continue
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return respBody, nil
		}
		lastErr = fmt.Errorf("telegram %s status=%d", method, resp.StatusCode)
		// 4xx responses other than 429 will not improve on retry.
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, lastErr
		}
		if !sleepCtx(ctx, time.Duration(i+1)*time.Second) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
