package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/replystack/commerce-bot/internal/assistant"
	"github.com/replystack/commerce-bot/internal/delivery"
	"github.com/replystack/commerce-bot/internal/mediator"
	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/internal/tenant"
	"github.com/replystack/commerce-bot/pkg/logger"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tenants := tenant.NewStaticProvider(&model.Tenant{ID: "shop", Active: true})
	med := mediator.New(
		store.NewMemoryStore(log),
		tenants,
		assistant.NewSelector(nil, nil),
		delivery.NewRegistry(),
		nil,
		log,
		mediator.Options{},
	)
	s, err := New(med, tenants, log, Options{
		SweepInterval:    30 * time.Second,
		RecoveryInterval: time.Hour,
		BatchWindow:      30 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRegistersJobs(t *testing.T) {
	s := newTestScheduler(t)
	if got := len(s.cron.Entries()); got != 2 {
		t.Errorf("registered jobs = %d, want 2", got)
	}
}

func TestEverySpec(t *testing.T) {
	if got := everySpec(30 * time.Second); got != "@every 30s" {
		t.Errorf("everySpec = %q", got)
	}
	if got := everySpec(time.Hour); got != "@every 1h0m0s" {
		t.Errorf("everySpec = %q", got)
	}
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	s := newTestScheduler(t)

	attempts := 0
	err := s.withRetry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	s := newTestScheduler(t)

	attempts := 0
	err := s.withRetry(func() error {
		attempts++
		return errors.New("still down")
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if attempts != jobRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, jobRetries+1)
	}
}
