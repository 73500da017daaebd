// Package delivery sends assistant replies back to messaging platforms.
package delivery

import (
	"context"
	"fmt"

	"github.com/replystack/commerce-bot/internal/model"
)

// Adapter is the per-platform send capability. Send returns one provider
// message id per platform message actually sent; long replies may be split
// into several.
type Adapter interface {
	Platform() model.Platform
	Send(ctx context.Context, tenant *model.Tenant, recipientID, text string) ([]string, error)
}

// Registry selects the adapter for a conversation's platform.
type Registry struct {
	adapters map[model.Platform]Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[model.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

// For returns the adapter for the platform.
func (r *Registry) For(p model.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", p)
	}
	return a, nil
}

// PartPlaceholder is the stable text recorded for trailing parts of a split
// reply; only the first outbound record carries the full logical text.
func PartPlaceholder(part int) string {
	return fmt.Sprintf("[Part %d of assistant response]", part+1)
}
