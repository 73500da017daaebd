// Package assistant wraps the stateful thread+run AI services that generate
// replies for batched user messages.
package assistant

import (
	"context"
	"strings"

	"github.com/replystack/commerce-bot/internal/model"
)

// BatchSeparator joins same-window messages into one logical turn while
// keeping them individually legible to the model.
const BatchSeparator = "\n---\n"

// Responder drives one AI turn to completion for a conversation.
type Responder interface {
	// EnsureThread validates or creates the thread binding for the
	// conversation and persists it. A tenant without the configuration needed
	// to create a thread yields a permanent fault.
	EnsureThread(ctx context.Context, tenant *model.Tenant, conv *model.Conversation) (string, error)

	// RunTurn submits the batch as a single turn and returns the reply text.
	// Timeouts and upstream outages yield retryable faults.
	RunTurn(ctx context.Context, tenant *model.Tenant, threadID string, texts []string) (string, error)

	// Name returns the provider name.
	Name() string
}

// JoinBatch merges batched message texts into one turn. A single message is
// sent verbatim.
func JoinBatch(texts []string) string {
	if len(texts) == 1 {
		return texts[0]
	}
	return strings.Join(texts, BatchSeparator)
}

// Selector returns the responder configured for a tenant.
type Selector struct {
	openai    Responder
	anthropic Responder
}

// NewSelector creates a tenant-keyed responder selector. Either responder
// may be nil when its API key is not configured.
func NewSelector(openai, anthropic Responder) *Selector {
	return &Selector{openai: openai, anthropic: anthropic}
}

// For returns the responder for the tenant, defaulting to OpenAI.
func (s *Selector) For(t *model.Tenant) Responder {
	if t.Responder == model.ResponderAnthropic && s.anthropic != nil {
		return s.anthropic
	}
	return s.openai
}
