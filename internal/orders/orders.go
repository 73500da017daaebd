// Package orders implements the order book consulted by assistant tool calls.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Order is one registered purchase.
type Order struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	TxID      int64     `json:"tx_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	Product   string    `json:"product"`
	Price     string    `json:"price"`
	Count     string    `json:"count"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores orders. In-memory; production deployments back this with
// the same document store as conversations.
type Repository struct {
	mu     sync.RWMutex
	orders map[string]*Order // id -> order
	byRun  map[string]string // tenant/run -> order id, for idempotent tool calls
}

// NewRepository creates an empty order repository.
func NewRepository() *Repository {
	return &Repository{
		orders: make(map[string]*Order),
		byRun:  make(map[string]string),
	}
}

// Create registers an order. Repeated calls for the same run return the
// already-created order instead of duplicating it.
func (r *Repository) Create(ctx context.Context, o *Order) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runKey := o.TenantID + "/" + o.RunID
	if o.RunID != "" {
		if id, ok := r.byRun[runKey]; ok {
			return r.orders[id], nil
		}
	}

	o.ID = uuid.New().String()
	o.CreatedAt = time.Now()
	r.orders[o.ID] = o
	if o.RunID != "" {
		r.byRun[runKey] = o.ID
	}
	return o, nil
}

// FindByTxID returns the tenant's order with the given transaction id.
func (r *Repository) FindByTxID(ctx context.Context, tenantID string, txID int64) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.TenantID == tenantID && o.TxID == txID {
			return o, nil
		}
	}
	return nil, fmt.Errorf("no order with tx_id %d", txID)
}

// createOrderArgs mirrors the assistant's create_order function schema.
type createOrderArgs struct {
	TxID      int64  `json:"tx_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	Product   string `json:"product"`
	Price     string `json:"price"`
	Count     string `json:"count"`
}

// CreateOrderHandler handles the create_order assistant function.
type CreateOrderHandler struct {
	repo *Repository
}

// NewCreateOrderHandler creates the create_order handler.
func NewCreateOrderHandler(repo *Repository) *CreateOrderHandler {
	return &CreateOrderHandler{repo: repo}
}

// Name returns the assistant function name.
func (h *CreateOrderHandler) Name() string { return "create_order" }

// Handle registers the order and returns a confirmation for the user.
func (h *CreateOrderHandler) Handle(ctx context.Context, tenantID, runID, arguments string) (string, error) {
	var args createOrderArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid create_order arguments: %w", err)
	}
	if args.TxID == 0 || args.Product == "" {
		return "", fmt.Errorf("create_order requires tx_id and product")
	}

	order, err := h.repo.Create(ctx, &Order{
		TenantID:  tenantID,
		TxID:      args.TxID,
		FirstName: args.FirstName,
		LastName:  args.LastName,
		Address:   args.Address,
		Phone:     args.Phone,
		Product:   args.Product,
		Price:     args.Price,
		Count:     args.Count,
		RunID:     runID,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Your order for %s has been registered (reference %d). We will contact you at %s to confirm delivery.",
		order.Product, order.TxID, order.Phone), nil
}

// checkOrderArgs mirrors the assistant's check_order function schema.
type checkOrderArgs struct {
	TxID int64 `json:"tx_id"`
}

// CheckOrderHandler handles the check_order assistant function.
type CheckOrderHandler struct {
	repo *Repository
}

// NewCheckOrderHandler creates the check_order handler.
func NewCheckOrderHandler(repo *Repository) *CheckOrderHandler {
	return &CheckOrderHandler{repo: repo}
}

// Name returns the assistant function name.
func (h *CheckOrderHandler) Name() string { return "check_order" }

// Handle looks up the order and returns its summary for the user.
func (h *CheckOrderHandler) Handle(ctx context.Context, tenantID, runID, arguments string) (string, error) {
	var args checkOrderArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid check_order arguments: %w", err)
	}

	order, err := h.repo.FindByTxID(ctx, tenantID, args.TxID)
	if err != nil {
		return fmt.Sprintf("No order was found with reference %d. Please check the reference number.", args.TxID), nil
	}
	return fmt.Sprintf("Order %d: %s x%s for %s %s, registered %s.",
		order.TxID, order.Product, order.Count, order.FirstName, order.LastName,
		order.CreatedAt.Format("2006-01-02")), nil
}
