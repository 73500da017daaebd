package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/model"
)

const (
	// StreamName is the name of the audit stream.
	StreamName = "CONVERSATION_AUDIT"

	// SubjectPrefix is the prefix for all audit subjects.
	SubjectPrefix = "convo"
)

// Kind labels an audit event.
type Kind string

const (
	KindInbound  Kind = "inbound"
	KindOutbound Kind = "outbound"
	KindStatus   Kind = "status"
)

// Event is one audit record. The stream is write-only bookkeeping; nothing
// in the pipeline reads it back.
type Event struct {
	TenantID  string       `json:"tenant_id"`
	UserID    string       `json:"user_id"`
	Kind      Kind         `json:"kind"`
	Status    model.Status `json:"status,omitempty"`
	Text      string       `json:"text,omitempty"`
	MessageID string       `json:"message_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Publisher writes audit events to JetStream. A nil Publisher is valid and
// drops all events, so callers need no NATS-configured guard.
type Publisher struct {
	client *Client
}

// NewPublisher creates an audit publisher over the client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream ensures the audit stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation pipeline audit events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Subject returns the subject for an event.
func Subject(tenantID, userID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, tenantID, userID, kind)
}

// Publish writes one audit event; failures are logged, never propagated,
// because audit must not affect mediation outcomes.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil || p.client == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.client.logger.Warn("failed to marshal audit event", zap.Error(err))
		return
	}

	if _, err := p.client.JetStream().Publish(ctx, Subject(event.TenantID, event.UserID, event.Kind), data); err != nil {
		p.client.logger.Warn("failed to publish audit event",
			zap.String("tenant_id", event.TenantID),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
	}
}
