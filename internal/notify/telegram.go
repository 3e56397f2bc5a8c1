package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Channel 定义出站推送通道。
type Channel interface {
	Send(ctx context.Context, chatID int64, text, parseMode string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Telegram 通过 Telegram Bot API 推送消息。
type Telegram struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegram 构造 Telegram 推送通道。
func NewTelegram(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *Telegram {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Telegram{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_channel").Logger(),
	}
}

// Send 调用 sendMessage API 推送文本。
func (t *Telegram) Send(ctx context.Context, chatID int64, text, parseMode string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	return t.call(ctx, "sendMessage", payload)
}

// AnswerCallback 确认一次 inline 键盘回调。
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
	}
	return t.call(ctx, "answerCallbackQuery", payload)
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
		}
	}

	t.logger.Debug().Str("method", method).Msg("telegram 调用成功")
	return nil
}

var _ Channel = (*Telegram)(nil)
