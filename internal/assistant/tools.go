package assistant

import (
	"context"
	"fmt"

	"github.com/replystack/commerce-bot/pkg/metrics"
)

// ToolHandler executes one assistant function call against the domain.
// Handlers must be idempotent against repeated calls for the same run: the
// run id is part of the call identity.
type ToolHandler interface {
	Name() string
	Handle(ctx context.Context, tenantID, runID, arguments string) (string, error)
}

// ToolDispatcher routes assistant function calls to domain handlers.
type ToolDispatcher struct {
	handlers map[string]ToolHandler
}

// NewToolDispatcher creates a dispatcher over the given handlers.
func NewToolDispatcher(handlers ...ToolHandler) *ToolDispatcher {
	m := make(map[string]ToolHandler, len(handlers))
	for _, h := range handlers {
		m[h.Name()] = h
	}
	return &ToolDispatcher{handlers: m}
}

// Dispatch invokes the handler for the named function and returns its
// textual result.
func (d *ToolDispatcher) Dispatch(ctx context.Context, tenantID, runID, name, arguments string) (string, error) {
	if d == nil {
		return "", fmt.Errorf("no tool handlers registered")
	}
	h, ok := d.handlers[name]
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(name, "unknown").Inc()
		return "", fmt.Errorf("unknown tool function: %s", name)
	}
	result, err := h.Handle(ctx, tenantID, runID, arguments)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		return "", err
	}
	metrics.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
	return result, nil
}
