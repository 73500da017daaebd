package model

// ResponderKind selects which AI responder implementation serves a tenant.
type ResponderKind string

const (
	ResponderOpenAI    ResponderKind = "openai"
	ResponderAnthropic ResponderKind = "anthropic"
)

// Tenant is the immutable per-run context for one customer account. The
// mediator only reads it; ownership lives with the tenant config provider.
type Tenant struct {
	ID               string            `json:"id"`
	Active           bool              `json:"active"`
	AssistantEnabled bool              `json:"assistant_enabled"`

	// AI responder configuration.
	Responder     ResponderKind `json:"responder,omitempty"`
	AssistantID   string        `json:"assistant_id,omitempty"`
	VectorStoreID string        `json:"vector_store_id,omitempty"`
	Model         string        `json:"model,omitempty"`
	Instructions  string        `json:"instructions,omitempty"`

	// Platform credentials. InstagramAccountID is the Graph business account
	// id webhook entries arrive under.
	InstagramAccountID string `json:"instagram_account_id,omitempty"`
	InstagramToken     string `json:"instagram_token,omitempty"`
	TelegramToken      string `json:"telegram_token,omitempty"`

	// Canned replies checked before spending an AI turn, keyed by the
	// lowercased trigger text.
	FixedResponses map[string]string `json:"fixed_responses,omitempty"`

	OrderbookEnabled bool `json:"orderbook_enabled,omitempty"`
}
