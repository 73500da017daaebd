// Package model defines data structures for the conversational commerce bot.
package model

import (
	"time"
)

// Status is the processing state of a conversation.
type Status string

const (
	// StatusWaiting marks a conversation with unanswered inbound messages.
	StatusWaiting Status = "waiting"
	// StatusProcessing marks a conversation leased by an in-flight mediation.
	StatusProcessing Status = "processing"
	// StatusAssistantReplied marks a successfully delivered assistant turn.
	StatusAssistantReplied Status = "assistant_replied"
	// StatusAssistantFailed marks a failed AI turn; the recovery sweep re-arms it.
	StatusAssistantFailed Status = "assistant_failed"
	// StatusInstagramFailed marks a completed AI turn whose Instagram delivery failed.
	StatusInstagramFailed Status = "instagram_failed"
	// StatusTelegramFailed marks a completed AI turn whose Telegram delivery failed.
	StatusTelegramFailed Status = "telegram_failed"
)

// Terminal reports whether the status ends a mediation cycle. A new inbound
// message re-arms any terminal conversation back to StatusWaiting.
func (s Status) Terminal() bool {
	switch s {
	case StatusAssistantReplied, StatusAssistantFailed, StatusInstagramFailed, StatusTelegramFailed:
		return true
	}
	return false
}

// Platform identifies the messaging platform a conversation lives on.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTelegram  Platform = "telegram"
)

// DeliveryFailedStatus returns the delivery-failure status for the platform.
func (p Platform) DeliveryFailedStatus() Status {
	if p == PlatformTelegram {
		return StatusTelegramFailed
	}
	return StatusInstagramFailed
}

// Direction distinguishes inbound user messages from outbound replies.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Role is the author role of a message record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAdmin     Role = "admin"
)

// MessageRecord is one entry in a conversation's append-only message log.
// ProviderMessageID, when present, is unique within the conversation: it
// de-duplicates redelivered webhooks on the inbound side and confirms
// delivery on the outbound side.
type MessageRecord struct {
	Direction         Direction `json:"direction"`
	Role              Role      `json:"role"`
	Text              string    `json:"text"`
	Timestamp         time.Time `json:"timestamp"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	MediaType         string    `json:"media_type,omitempty"`
	MediaURL          string    `json:"media_url,omitempty"`
}

// Conversation is the per-user, per-tenant message history and status.
// ThreadID is owned by the AI responder once created; the store persists it
// but nothing else mutates it. AnsweredThrough is the timestamp of the newest
// inbound message covered by a reply; messages after it are still pending.
// Coverage is tracked explicitly rather than inferred from outbound record
// timestamps, because an inbound message can arrive mid-mediation with a
// platform timestamp older than the reply that did not see it.
type Conversation struct {
	TenantID        string          `json:"tenant_id"`
	UserID          string          `json:"user_id"`
	Username        string          `json:"username,omitempty"`
	Platform        Platform        `json:"platform"`
	Status          Status          `json:"status"`
	ThreadID        string          `json:"thread_id,omitempty"`
	LeaseExpiry     time.Time       `json:"lease_expiry,omitempty"`
	AnsweredThrough time.Time       `json:"answered_through,omitempty"`
	Messages        []MessageRecord `json:"messages"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LatestInboundAt returns the timestamp of the most recent inbound user
// message, or the zero time if there are none.
func (c *Conversation) LatestInboundAt() time.Time {
	var last time.Time
	for _, m := range c.Messages {
		if m.Direction == DirectionIn && m.Role == RoleUser && m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}
	return last
}

// PendingInbound returns the inbound user messages not yet covered by a
// reply, in log order. This is the batch merged into one AI turn.
func (c *Conversation) PendingInbound() []MessageRecord {
	var pending []MessageRecord
	for _, m := range c.Messages {
		if m.Direction == DirectionIn && m.Role == RoleUser && m.Timestamp.After(c.AnsweredThrough) {
			pending = append(pending, m)
		}
	}
	return pending
}
