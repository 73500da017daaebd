// Package store provides conversation persistence for the mediation pipeline.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/replystack/commerce-bot/internal/model"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// InboundMessage is a normalized inbound event produced by the webhook layer.
type InboundMessage struct {
	UserID            string
	Username          string
	Platform          model.Platform
	Text              string
	Timestamp         time.Time
	ProviderMessageID string
	MediaType         string
	MediaURL          string
}

// ConversationStore is the document-shaped store keyed by (tenant, user).
// All mutations are single-conversation updates; the leasing contract
// guarantees each conversation is processed by at most one worker.
type ConversationStore interface {
	// GetEligible returns the user ids whose conversation is WAITING and whose
	// latest inbound message is at or before cutoff. Users still typing
	// (latest message newer than cutoff) are never returned.
	GetEligible(ctx context.Context, tenantID string, cutoff time.Time) ([]string, error)

	// Get returns a copy of the conversation, or ErrNotFound.
	Get(ctx context.Context, tenantID, userID string) (*model.Conversation, error)

	// AppendInbound records an inbound user message, creating the conversation
	// on first contact and re-arming terminal conversations to WAITING. It
	// reports false without error when the provider message id was already
	// recorded (webhook redelivery).
	AppendInbound(ctx context.Context, tenantID string, msg InboundMessage) (bool, error)

	// AppendEcho records an outbound message observed via webhook echo (a
	// reply sent by the business account outside this pipeline). No status
	// transition.
	AppendEcho(ctx context.Context, tenantID, userID string, rec model.MessageRecord) (bool, error)

	// AppendOutbound records delivered assistant messages.
	AppendOutbound(ctx context.Context, tenantID, userID string, recs []model.MessageRecord) error

	// MarkAnswered advances the coverage watermark: inbound messages with
	// timestamps at or before through are considered replied to. The mediator
	// calls it with the newest timestamp of the batch it just answered, so a
	// message that raced in mid-mediation stays pending.
	MarkAnswered(ctx context.Context, tenantID, userID string, through time.Time) error

	// SetStatus transitions the conversation status. Terminal transitions and
	// WAITING release any processing lease. A transition to ASSISTANT_REPLIED
	// lands in WAITING instead when an uncovered inbound message arrived
	// during processing, so the next sweep answers it without the user having
	// to write again.
	SetStatus(ctx context.Context, tenantID, userID string, status model.Status) error

	// SetThreadID persists the AI responder's thread binding.
	SetThreadID(ctx context.Context, tenantID, userID, threadID string) error

	// AcquireLease transitions WAITING to PROCESSING with an expiry, or takes
	// over an expired lease. It reports false if the conversation is already
	// leased or not in WAITING.
	AcquireLease(ctx context.Context, tenantID, userID string, ttl time.Duration) (bool, error)

	// RecoverFailed unconditionally re-arms every ASSISTANT_FAILED
	// conversation of the tenant to WAITING and returns the count.
	RecoverFailed(ctx context.Context, tenantID string) (int, error)

	// ReclaimExpiredLeases re-arms PROCESSING conversations whose lease has
	// expired (a worker died mid-flight) and returns the count.
	ReclaimExpiredLeases(ctx context.Context, tenantID string) (int, error)
}
