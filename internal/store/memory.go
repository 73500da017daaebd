package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/pkg/logger"
)

// MemoryStore is an in-memory ConversationStore. Production deployments swap
// in a database-backed implementation behind the same interface.
type MemoryStore struct {
	logger *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*model.Conversation

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		logger:        log,
		conversations: make(map[string]*model.Conversation),
		now:           time.Now,
	}
}

func key(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// GetEligible returns WAITING users whose latest inbound message is at or
// before cutoff, in a single pass over the tenant's conversations.
func (s *MemoryStore) GetEligible(ctx context.Context, tenantID string, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for _, conv := range s.conversations {
		if conv.TenantID != tenantID || conv.Status != model.StatusWaiting {
			continue
		}
		latest := conv.LatestInboundAt()
		if latest.IsZero() || latest.After(cutoff) || !latest.After(conv.AnsweredThrough) {
			continue
		}
		users = append(users, conv.UserID)
	}
	return users, nil
}

// Get returns a deep copy of the conversation, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, tenantID, userID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[key(tenantID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// AppendInbound records an inbound user message with provider-id dedup.
func (s *MemoryStore) AppendInbound(ctx context.Context, tenantID string, msg InboundMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, msg.UserID)
	conv, ok := s.conversations[k]
	if !ok {
		now := s.now()
		conv = &model.Conversation{
			TenantID:  tenantID,
			UserID:    msg.UserID,
			Username:  msg.Username,
			Platform:  msg.Platform,
			Status:    model.StatusWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.conversations[k] = conv
	}

	if msg.ProviderMessageID != "" && hasProviderID(conv, msg.ProviderMessageID) {
		return false, nil
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	conv.Messages = append(conv.Messages, model.MessageRecord{
		Direction:         model.DirectionIn,
		Role:              model.RoleUser,
		Text:              msg.Text,
		Timestamp:         ts,
		ProviderMessageID: msg.ProviderMessageID,
		MediaType:         msg.MediaType,
		MediaURL:          msg.MediaURL,
	})
	if conv.Status.Terminal() {
		conv.Status = model.StatusWaiting
	}
	conv.UpdatedAt = s.now()
	return true, nil
}

// AppendEcho records an externally sent outbound message, with dedup.
func (s *MemoryStore) AppendEcho(ctx context.Context, tenantID, userID string, rec model.MessageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key(tenantID, userID)]
	if !ok {
		return false, ErrNotFound
	}
	if rec.ProviderMessageID != "" && hasProviderID(conv, rec.ProviderMessageID) {
		return false, nil
	}
	rec.Direction = model.DirectionOut
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	conv.Messages = append(conv.Messages, rec)
	// A human answering from the platform app covers everything the user had
	// written so far; the echo's timestamp shares the platform clock with
	// inbound messages.
	if rec.Timestamp.After(conv.AnsweredThrough) {
		conv.AnsweredThrough = rec.Timestamp
	}
	conv.UpdatedAt = s.now()
	return true, nil
}

// AppendOutbound records delivered assistant messages.
func (s *MemoryStore) AppendOutbound(ctx context.Context, tenantID, userID string, recs []model.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key(tenantID, userID)]
	if !ok {
		return ErrNotFound
	}
	for _, rec := range recs {
		rec.Direction = model.DirectionOut
		if rec.Timestamp.IsZero() {
			rec.Timestamp = s.now()
		}
		conv.Messages = append(conv.Messages, rec)
	}
	conv.UpdatedAt = s.now()
	return nil
}

// MarkAnswered advances the reply-coverage watermark.
func (s *MemoryStore) MarkAnswered(ctx context.Context, tenantID, userID string, through time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key(tenantID, userID)]
	if !ok {
		return ErrNotFound
	}
	if through.After(conv.AnsweredThrough) {
		conv.AnsweredThrough = through
		conv.UpdatedAt = s.now()
	}
	return nil
}

// SetStatus transitions the conversation status and releases the lease on
// any transition out of PROCESSING. A reply that left an uncovered inbound
// message behind (one that raced in while the run was in flight) re-arms the
// conversation instead of parking it in ASSISTANT_REPLIED.
func (s *MemoryStore) SetStatus(ctx context.Context, tenantID, userID string, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key(tenantID, userID)]
	if !ok {
		return ErrNotFound
	}
	if status == model.StatusAssistantReplied && conv.LatestInboundAt().After(conv.AnsweredThrough) {
		status = model.StatusWaiting
	}
	conv.Status = status
	if status != model.StatusProcessing {
		conv.LeaseExpiry = time.Time{}
	}
	conv.UpdatedAt = s.now()
	return nil
}

// SetThreadID persists the responder's thread binding.
func (s *MemoryStore) SetThreadID(ctx context.Context, tenantID, userID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key(tenantID, userID)]
	if !ok {
		return ErrNotFound
	}
	conv.ThreadID = threadID
	conv.UpdatedAt = s.now()
	return nil
}

// AcquireLease claims exclusive processing rights over a WAITING
// conversation, or takes over an expired lease.
func (s *MemoryStore) AcquireLease(ctx context.Context, tenantID, userID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key(tenantID, userID)]
	if !ok {
		return false, ErrNotFound
	}
	now := s.now()
	switch conv.Status {
	case model.StatusWaiting:
	case model.StatusProcessing:
		if conv.LeaseExpiry.After(now) {
			return false, nil
		}
	default:
		return false, nil
	}
	conv.Status = model.StatusProcessing
	conv.LeaseExpiry = now.Add(ttl)
	conv.UpdatedAt = now
	return true, nil
}

// RecoverFailed re-arms every ASSISTANT_FAILED conversation of the tenant.
func (s *MemoryStore) RecoverFailed(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID && conv.Status == model.StatusAssistantFailed {
			conv.Status = model.StatusWaiting
			conv.UpdatedAt = s.now()
			count++
		}
	}
	if count > 0 && s.logger != nil {
		s.logger.Info("recovered failed conversations",
			zap.String("tenant_id", tenantID),
			zap.Int("count", count),
		)
	}
	return count, nil
}

// ReclaimExpiredLeases re-arms PROCESSING conversations whose lease expired.
func (s *MemoryStore) ReclaimExpiredLeases(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID && conv.Status == model.StatusProcessing && !conv.LeaseExpiry.After(now) {
			conv.Status = model.StatusWaiting
			conv.LeaseExpiry = time.Time{}
			conv.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func hasProviderID(conv *model.Conversation, id string) bool {
	for _, m := range conv.Messages {
		if m.ProviderMessageID == id {
			return true
		}
	}
	return false
}

func copyConversation(conv *model.Conversation) *model.Conversation {
	dup := *conv
	dup.Messages = make([]model.MessageRecord, len(conv.Messages))
	copy(dup.Messages, conv.Messages)
	return &dup
}
