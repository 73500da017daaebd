package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/metrics"
)

// Telegram caps message text at 4096 characters.
const telegramCharLimit = 4000

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramAdapter sends messages through the Telegram Bot API.
type TelegramAdapter struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewTelegramAdapter creates the Telegram delivery adapter.
func NewTelegramAdapter(log *logger.Logger) *TelegramAdapter {
	return &TelegramAdapter{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultTelegramBaseURL,
		logger:     log,
	}
}

// NewTelegramAdapterWithBaseURL creates an adapter against a custom API
// endpoint; used in tests.
func NewTelegramAdapterWithBaseURL(baseURL string, log *logger.Logger) *TelegramAdapter {
	a := NewTelegramAdapter(log)
	a.baseURL = baseURL
	return a
}

// Platform returns the platform this adapter serves.
func (a *TelegramAdapter) Platform() model.Platform {
	return model.PlatformTelegram
}

type telegramSendResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

// Send delivers the reply and returns the provider message id per part.
func (a *TelegramAdapter) Send(ctx context.Context, tenant *model.Tenant, recipientID, text string) ([]string, error) {
	if tenant.TelegramToken == "" {
		return nil, fmt.Errorf("tenant %s has no Telegram token", tenant.ID)
	}

	parts := SplitMessage(text, telegramCharLimit)
	ids := make([]string, 0, len(parts))
	for i, part := range parts {
		id, err := a.sendOne(ctx, tenant.TelegramToken, recipientID, part)
		if err != nil {
			metrics.RecordDelivery(string(a.Platform()), "error")
			return ids, fmt.Errorf("telegram send failed at part %d/%d: %w", i+1, len(parts), err)
		}
		ids = append(ids, id)
		metrics.RecordDelivery(string(a.Platform()), "ok")
	}

	a.logger.Info("telegram message delivered",
		zap.String("chat_id", recipientID),
		zap.Int("parts", len(ids)),
	)
	return ids, nil
}

func (a *TelegramAdapter) sendOne(ctx context.Context, token, chatID, text string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", a.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result telegramSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("telegram API error: %s", result.Description)
	}
	return strconv.FormatInt(result.Result.MessageID, 10), nil
}
