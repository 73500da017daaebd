// Package mediator orchestrates the batch mediation pipeline: it selects
// conversations ready for processing, merges their pending messages into one
// AI turn, drives the turn to completion and delivers the reply.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/assistant"
	"github.com/replystack/commerce-bot/internal/delivery"
	"github.com/replystack/commerce-bot/internal/events"
	"github.com/replystack/commerce-bot/internal/fault"
	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/internal/tenant"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/metrics"
)

// Options tunes mediation behavior.
type Options struct {
	// WorkerPoolSize bounds concurrent users per tenant sweep.
	WorkerPoolSize int
	// LeaseTTL is the processing-lease expiry; a worker that dies mid-flight
	// frees its conversation after this long.
	LeaseTTL time.Duration
	// UserTimeout bounds one user's whole mediation, including the wait for
	// foreign active runs on the thread.
	UserTimeout time.Duration
}

// Mediator drives mediation cycles for eligible conversations.
type Mediator struct {
	store      store.ConversationStore
	tenants    tenant.Provider
	responders *assistant.Selector
	registry   *delivery.Registry
	audit      *events.Publisher
	logger     *logger.Logger
	tracer     trace.Tracer
	opts       Options
}

// New creates a mediator.
func New(st store.ConversationStore, tenants tenant.Provider, responders *assistant.Selector, registry *delivery.Registry, audit *events.Publisher, log *logger.Logger, opts Options) *Mediator {
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = 1
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 5 * time.Minute
	}
	if opts.UserTimeout <= 0 {
		opts.UserTimeout = 6 * time.Minute
	}
	return &Mediator{
		store:      st,
		tenants:    tenants,
		responders: responders,
		registry:   registry,
		audit:      audit,
		logger:     log,
		tracer:     otel.Tracer("mediator"),
		opts:       opts,
	}
}

// ProcessTenant mediates every eligible conversation of the tenant.
// Distinct users run concurrently up to the worker pool bound; one user's
// failure never aborts the tenant sweep.
func (m *Mediator) ProcessTenant(ctx context.Context, tenantID string, cutoff time.Time) error {
	t, err := m.tenants.Get(tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant config: %w", err)
	}
	if !t.Active || !t.AssistantEnabled {
		m.logger.Info("assistant disabled for tenant, skipping sweep",
			zap.String("tenant_id", tenantID),
		)
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "mediator.process_tenant",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	users, err := m.store.GetEligible(ctx, tenantID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to select eligible users: %w", err)
	}
	metrics.EligibleUsers.WithLabelValues(tenantID).Set(float64(len(users)))

	m.logger.Info("starting mediation sweep",
		zap.String("tenant_id", tenantID),
		zap.Int("eligible_users", len(users)),
		zap.Time("cutoff", cutoff),
	)

	sem := make(chan struct{}, m.opts.WorkerPoolSize)
	var wg sync.WaitGroup
	for _, userID := range users {
		userID := userID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := m.ProcessUser(ctx, t, userID, cutoff); err != nil {
				m.logger.Error("user mediation failed",
					zap.String("tenant_id", tenantID),
					zap.String("user_id", userID),
					zap.String("fault", fault.Class(err)),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
	return nil
}

// ProcessUser mediates one conversation: lease, batch, AI turn, delivery,
// terminal transition.
func (m *Mediator) ProcessUser(ctx context.Context, t *model.Tenant, userID string, cutoff time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.UserTimeout)
	defer cancel()

	ctx, span := m.tracer.Start(ctx, "mediator.process_user",
		trace.WithAttributes(
			attribute.String("tenant.id", t.ID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	log := m.logger.WithConversation(t.ID, userID)

	conv, err := m.store.Get(ctx, t.ID, userID)
	if errors.Is(err, store.ErrNotFound) {
		// Raced with deletion; nothing to do.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	// The lease guarantees at most one in-flight run per conversation even
	// when sweeps overlap.
	acquired, err := m.store.AcquireLease(ctx, t.ID, userID, m.opts.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		log.Debug("conversation already leased, skipping")
		return nil
	}

	batch := &model.Batch{
		TenantID: t.ID,
		UserID:   userID,
		Messages: conv.PendingInbound(),
		Cutoff:   cutoff,
	}
	if len(batch.Messages) == 0 {
		// Nothing pending; release the lease without a terminal transition.
		return m.store.SetStatus(ctx, t.ID, userID, model.StatusWaiting)
	}

	log.Info("processing batch", zap.Int("messages", len(batch.Messages)))

	text, err := m.respond(ctx, t, conv, batch)
	if err != nil {
		return m.failAssistant(ctx, t, userID, batch, err)
	}
	if text == "" {
		return m.failAssistant(ctx, t, userID, batch, fault.Permanent("no response generated"))
	}

	return m.deliver(ctx, t, conv, batch, text)
}

// respond produces the reply text for the batch, via a canned fixed response
// when one matches, otherwise through the tenant's AI responder.
func (m *Mediator) respond(ctx context.Context, t *model.Tenant, conv *model.Conversation, batch *model.Batch) (string, error) {
	if len(batch.Messages) == 1 {
		if reply, ok := tenant.FixedResponse(t, batch.Messages[0].Text); ok {
			m.logger.WithConversation(t.ID, conv.UserID).Info("fixed response matched")
			return reply, nil
		}
	}

	responder := m.responders.For(t)
	if responder == nil {
		return "", fault.Permanent("no responder configured for tenant %s", t.ID)
	}

	threadID, err := responder.EnsureThread(ctx, t, conv)
	if err != nil {
		return "", err
	}
	return responder.RunTurn(ctx, t, threadID, batch.Texts())
}

// deliver sends the reply and records the outcome. One outbound record is
// appended per platform message actually sent; only the first carries the
// full logical text.
func (m *Mediator) deliver(ctx context.Context, t *model.Tenant, conv *model.Conversation, batch *model.Batch, text string) error {
	log := m.logger.WithConversation(t.ID, conv.UserID)
	adapter, err := m.registry.For(conv.Platform)
	if err != nil {
		return m.failAssistant(ctx, t, conv.UserID, batch, fault.Permanent("delivery: %w", err))
	}

	mids, sendErr := adapter.Send(ctx, t, conv.UserID, text)
	if sendErr != nil || len(mids) == 0 {
		failed := conv.Platform.DeliveryFailedStatus()
		if err := m.store.SetStatus(ctx, t.ID, conv.UserID, failed); err != nil {
			log.Error("failed to record delivery failure", zap.Error(err))
		}
		m.audit.Publish(ctx, events.Event{
			TenantID: t.ID,
			UserID:   conv.UserID,
			Kind:     events.KindStatus,
			Status:   failed,
		})
		metrics.RecordBatch(t.ID, "delivery_failed", len(batch.Messages))
		if sendErr == nil {
			sendErr = fmt.Errorf("delivery returned no message ids")
		}
		return fmt.Errorf("delivery failed: %w", sendErr)
	}

	now := time.Now()
	recs := make([]model.MessageRecord, len(mids))
	for i, mid := range mids {
		recText := text
		if i > 0 {
			recText = delivery.PartPlaceholder(i)
		}
		recs[i] = model.MessageRecord{
			Direction:         model.DirectionOut,
			Role:              model.RoleAssistant,
			Text:              recText,
			Timestamp:         now,
			ProviderMessageID: mid,
		}
	}
	if err := m.store.AppendOutbound(ctx, t.ID, conv.UserID, recs); err != nil {
		return fmt.Errorf("failed to record outbound messages: %w", err)
	}
	// Only the batch we actually answered is covered; a message that raced in
	// mid-run stays pending and the store re-arms the conversation for it.
	if err := m.store.MarkAnswered(ctx, t.ID, conv.UserID, batch.Messages[len(batch.Messages)-1].Timestamp); err != nil {
		return fmt.Errorf("failed to mark batch answered: %w", err)
	}
	if err := m.store.SetStatus(ctx, t.ID, conv.UserID, model.StatusAssistantReplied); err != nil {
		return fmt.Errorf("failed to set replied status: %w", err)
	}

	m.audit.Publish(ctx, events.Event{
		TenantID:  t.ID,
		UserID:    conv.UserID,
		Kind:      events.KindOutbound,
		Text:      text,
		MessageID: mids[0],
	})
	m.audit.Publish(ctx, events.Event{
		TenantID: t.ID,
		UserID:   conv.UserID,
		Kind:     events.KindStatus,
		Status:   model.StatusAssistantReplied,
	})
	metrics.RecordBatch(t.ID, "replied", len(batch.Messages))

	log.Info("assistant reply delivered", zap.Int("parts", len(mids)))
	return nil
}

// failAssistant records a failed AI turn. No outbound record is appended;
// the recovery sweep will re-arm the conversation.
func (m *Mediator) failAssistant(ctx context.Context, t *model.Tenant, userID string, batch *model.Batch, cause error) error {
	if err := m.store.SetStatus(ctx, t.ID, userID, model.StatusAssistantFailed); err != nil {
		m.logger.WithConversation(t.ID, userID).Error("failed to record assistant failure", zap.Error(err))
	}
	m.audit.Publish(ctx, events.Event{
		TenantID: t.ID,
		UserID:   userID,
		Kind:     events.KindStatus,
		Status:   model.StatusAssistantFailed,
	})
	metrics.RecordBatch(t.ID, "assistant_failed", len(batch.Messages))
	return cause
}

// RecoverFailed re-arms every ASSISTANT_FAILED conversation of the tenant
// and reclaims expired processing leases.
func (m *Mediator) RecoverFailed(ctx context.Context, tenantID string) (int, error) {
	recovered, err := m.store.RecoverFailed(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("recovery sweep failed: %w", err)
	}
	if recovered > 0 {
		metrics.RecoveredTotal.WithLabelValues(tenantID).Add(float64(recovered))
	}

	reclaimed, err := m.store.ReclaimExpiredLeases(ctx, tenantID)
	if err != nil {
		return recovered, fmt.Errorf("lease reclaim failed: %w", err)
	}
	if reclaimed > 0 {
		metrics.LeasesReclaimed.WithLabelValues(tenantID).Add(float64(reclaimed))
		m.logger.Warn("reclaimed expired processing leases",
			zap.String("tenant_id", tenantID),
			zap.Int("count", reclaimed),
		)
	}
	return recovered, nil
}
