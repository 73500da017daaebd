package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/metrics"
)

// Instagram's messaging API rejects texts much beyond this length.
const instagramCharLimit = 950

const defaultGraphBaseURL = "https://graph.instagram.com/v21.0"

// InstagramAdapter sends direct messages through the Instagram Graph API.
type InstagramAdapter struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewInstagramAdapter creates the Instagram delivery adapter.
func NewInstagramAdapter(log *logger.Logger) *InstagramAdapter {
	return &InstagramAdapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultGraphBaseURL,
		logger:     log,
	}
}

// NewInstagramAdapterWithBaseURL creates an adapter against a custom API
// endpoint; used in tests.
func NewInstagramAdapterWithBaseURL(baseURL string, log *logger.Logger) *InstagramAdapter {
	a := NewInstagramAdapter(log)
	a.baseURL = baseURL
	return a
}

// Platform returns the platform this adapter serves.
func (a *InstagramAdapter) Platform() model.Platform {
	return model.PlatformInstagram
}

type graphSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type graphSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// Send delivers the reply, splitting long texts into multiple messages, and
// returns the provider message id of every part sent.
func (a *InstagramAdapter) Send(ctx context.Context, tenant *model.Tenant, recipientID, text string) ([]string, error) {
	if tenant.InstagramToken == "" {
		return nil, fmt.Errorf("tenant %s has no Instagram token", tenant.ID)
	}

	parts := SplitMessage(text, instagramCharLimit)
	mids := make([]string, 0, len(parts))
	for i, part := range parts {
		mid, err := a.sendOne(ctx, tenant.InstagramToken, recipientID, part)
		if err != nil {
			metrics.RecordDelivery(string(a.Platform()), "error")
			return mids, fmt.Errorf("instagram send failed at part %d/%d: %w", i+1, len(parts), err)
		}
		mids = append(mids, mid)
		metrics.RecordDelivery(string(a.Platform()), "ok")
	}

	a.logger.Info("instagram message delivered",
		zap.String("recipient_id", recipientID),
		zap.Int("parts", len(mids)),
	)
	return mids, nil
}

func (a *InstagramAdapter) sendOne(ctx context.Context, token, recipientID, text string) (string, error) {
	var payload graphSendRequest
	payload.Recipient.ID = recipientID
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/me/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("graph API returned status %d", resp.StatusCode)
	}

	var result graphSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode graph API response: %w", err)
	}
	if result.MessageID == "" {
		return "", fmt.Errorf("graph API response missing message_id")
	}
	return result.MessageID, nil
}
