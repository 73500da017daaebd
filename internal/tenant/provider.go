// Package tenant provides tenant configuration lookup for the pipeline.
package tenant

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/pkg/logger"
)

// Provider serves tenant configuration to the mediator and webhook layer.
// Configuration is refreshed only through Reload; nothing reads module-level
// mutable state.
type Provider interface {
	// ActiveTenants returns the ids of active tenants in a stable order.
	ActiveTenants() []string
	// Get returns the tenant config, or an error if the tenant is unknown.
	Get(tenantID string) (*model.Tenant, error)
	// Reload re-reads the backing configuration.
	Reload() error
}

// FileProvider loads tenants from a JSON file on disk.
type FileProvider struct {
	path   string
	logger *logger.Logger

	mu      sync.RWMutex
	tenants map[string]*model.Tenant
}

// NewFileProvider creates a provider backed by the given JSON file and
// performs the initial load.
func NewFileProvider(path string, log *logger.Logger) (*FileProvider, error) {
	p := &FileProvider{
		path:    path,
		logger:  log,
		tenants: make(map[string]*model.Tenant),
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the tenant file, replacing the in-memory snapshot.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read tenants file: %w", err)
	}

	var list []*model.Tenant
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("failed to parse tenants file: %w", err)
	}

	tenants := make(map[string]*model.Tenant, len(list))
	for _, t := range list {
		if t.ID == "" {
			return fmt.Errorf("tenant entry missing id")
		}
		normalized := make(map[string]string, len(t.FixedResponses))
		for trigger, reply := range t.FixedResponses {
			normalized[strings.ToLower(strings.TrimSpace(trigger))] = reply
		}
		t.FixedResponses = normalized
		tenants[t.ID] = t
	}

	p.mu.Lock()
	p.tenants = tenants
	p.mu.Unlock()

	p.logger.Info("tenant configuration loaded",
		zap.String("path", p.path),
		zap.Int("tenants", len(tenants)),
	)
	return nil
}

// ActiveTenants returns active tenant ids sorted for deterministic sweeps.
func (p *FileProvider) ActiveTenants() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ids []string
	for id, t := range p.tenants {
		if t.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Get returns the tenant config by id.
func (p *FileProvider) Get(tenantID string) (*model.Tenant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("unknown tenant: %s", tenantID)
	}
	dup := *t
	return &dup, nil
}

// FixedResponse returns the canned reply for the trigger text, if one is
// configured for the tenant.
func FixedResponse(t *model.Tenant, text string) (string, bool) {
	if len(t.FixedResponses) == 0 {
		return "", false
	}
	reply, ok := t.FixedResponses[strings.ToLower(strings.TrimSpace(text))]
	return reply, ok
}

// StaticProvider serves a fixed set of tenants; used in tests and as a
// fallback when no tenants file is configured.
type StaticProvider struct {
	mu      sync.RWMutex
	tenants map[string]*model.Tenant
}

// NewStaticProvider creates a provider over the given tenants.
func NewStaticProvider(tenants ...*model.Tenant) *StaticProvider {
	m := make(map[string]*model.Tenant, len(tenants))
	for _, t := range tenants {
		m[t.ID] = t
	}
	return &StaticProvider{tenants: m}
}

// ActiveTenants returns active tenant ids sorted for deterministic sweeps.
func (p *StaticProvider) ActiveTenants() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ids []string
	for id, t := range p.tenants {
		if t.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Get returns the tenant config by id.
func (p *StaticProvider) Get(tenantID string) (*model.Tenant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("unknown tenant: %s", tenantID)
	}
	dup := *t
	return &dup, nil
}

// Reload is a no-op for the static provider.
func (p *StaticProvider) Reload() error { return nil }
