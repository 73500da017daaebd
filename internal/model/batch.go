package model

import (
	"time"
)

// Batch is the transient unit of one mediation cycle: the inbound messages
// accumulated since the last outbound reply, merged into a single AI turn.
// It is never persisted.
type Batch struct {
	TenantID string
	UserID   string
	Messages []MessageRecord
	Cutoff   time.Time
}

// Texts returns the message texts in batch order.
func (b *Batch) Texts() []string {
	texts := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		texts = append(texts, m.Text)
	}
	return texts
}

// RunAttempt records one AI-turn lifecycle for logging and poll bounding.
// It lives only as long as the mediation that created it.
type RunAttempt struct {
	ThreadID         string
	RunID            string
	Status           string
	StartedAt        time.Time
	ToolCallsHandled int
}
