package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/replystack/commerce-bot/internal/fault"
	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/metrics"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicResponder serves tenants configured for Anthropic. The vendor API
// is stateless, so thread ids are issued locally and each turn completes
// synchronously; there is no run polling and no tool-call surface.
type AnthropicResponder struct {
	client *anthropic.Client
	store  store.ConversationStore
	logger *logger.Logger
}

// NewAnthropicResponder creates an Anthropic-backed responder.
func NewAnthropicResponder(apiKey string, st store.ConversationStore, log *logger.Logger) (*AnthropicResponder, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	return &AnthropicResponder{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		store:  st,
		logger: log,
	}, nil
}

// Name returns the provider name.
func (r *AnthropicResponder) Name() string {
	return "anthropic"
}

// EnsureThread issues a locally scoped thread id on first use.
func (r *AnthropicResponder) EnsureThread(ctx context.Context, tenant *model.Tenant, conv *model.Conversation) (string, error) {
	if conv.ThreadID != "" {
		return conv.ThreadID, nil
	}
	threadID := fmt.Sprintf("local_%s", uuid.New().String())
	if err := r.store.SetThreadID(ctx, tenant.ID, conv.UserID, threadID); err != nil {
		return "", fault.Permanent("failed to persist thread id: %w", err)
	}
	return threadID, nil
}

// RunTurn sends the batch as a single message and returns the reply.
func (r *AnthropicResponder) RunTurn(ctx context.Context, tenant *model.Tenant, threadID string, texts []string) (string, error) {
	start := time.Now()

	modelName := tenant.Model
	if modelName == "" {
		modelName = defaultAnthropicModel
	}

	content := JoinBatch(texts)
	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(modelName),
		MaxTokens: anthropic.F(int64(4096)),
		Messages: anthropic.F([]anthropic.MessageParam{
			{
				Role: anthropic.F(anthropic.MessageParamRoleUser),
				Content: anthropic.F([]anthropic.ContentBlockParamUnion{
					anthropic.TextBlockParam{
						Type: anthropic.F(anthropic.TextBlockParamTypeText),
						Text: anthropic.F(content),
					},
				}),
			},
		}),
	})
	if err != nil {
		metrics.RecordRun(r.Name(), "error", time.Since(start).Seconds())
		return "", fault.Retryable("anthropic completion failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text += block.Text
		}
	}
	if text == "" {
		metrics.RecordRun(r.Name(), "empty", time.Since(start).Seconds())
		return "", fault.Permanent("empty response from assistant in thread %s", threadID)
	}

	metrics.RecordRun(r.Name(), "completed", time.Since(start).Seconds())
	return CleanCitations(text), nil
}
