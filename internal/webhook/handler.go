// Package webhook decodes platform webhook payloads into normalized inbound
// messages and exposes the admin and health HTTP surface.
package webhook

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/events"
	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/internal/tenant"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/metrics"
)

// Handler serves the webhook endpoints.
type Handler struct {
	store       store.ConversationStore
	tenants     tenant.Provider
	audit       *events.Publisher
	logger      *logger.Logger
	verifyToken string
}

// NewHandler creates the webhook handler.
func NewHandler(st store.ConversationStore, tenants tenant.Provider, audit *events.Publisher, log *logger.Logger, verifyToken string) *Handler {
	return &Handler{
		store:       st,
		tenants:     tenants,
		audit:       audit,
		logger:      log,
		verifyToken: verifyToken,
	}
}

// Routes registers the webhook endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/webhooks/instagram", h.VerifyInstagram)
	r.Post("/webhooks/instagram", h.ReceiveInstagram)
	r.Post("/webhooks/telegram/{tenantID}", h.ReceiveTelegram)
}

// VerifyInstagram answers the Graph API subscription handshake.
func (h *Handler) VerifyInstagram(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken && h.verifyToken != "" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	h.logger.Warn("webhook verification rejected",
		zap.String("mode", q.Get("hub.mode")),
	)
	http.Error(w, "verification failed", http.StatusForbidden)
}

type instagramWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Time      int64  `json:"time"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Timestamp int64 `json:"timestamp"`
			Message   *struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ReceiveInstagram ingests Instagram messaging events. It always answers 200
// for well-formed payloads so the Graph API does not retry events we chose to
// skip; idempotent appends absorb the redeliveries it sends anyway.
func (h *Handler) ReceiveInstagram(w http.ResponseWriter, r *http.Request) {
	var payload instagramWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("instagram", "invalid").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		t := h.tenantForInstagramAccount(entry.ID)
		if t == nil {
			metrics.WebhookEventsTotal.WithLabelValues("instagram", "unknown_tenant").Inc()
			h.logger.Warn("webhook event for unknown instagram account",
				zap.String("account_id", entry.ID),
			)
			continue
		}

		for _, ev := range entry.Messaging {
			if ev.Message == nil || (ev.Message.Text == "" && len(ev.Message.Attachments) == 0) {
				metrics.WebhookEventsTotal.WithLabelValues("instagram", "ignored").Inc()
				continue
			}
			ts := time.UnixMilli(ev.Timestamp)

			if ev.Message.IsEcho {
				h.recordEcho(r, t, ev.Recipient.ID, ev.Message.MID, ev.Message.Text, ts)
				continue
			}

			msg := store.InboundMessage{
				UserID:            ev.Sender.ID,
				Platform:          model.PlatformInstagram,
				Text:              ev.Message.Text,
				Timestamp:         ts,
				ProviderMessageID: ev.Message.MID,
			}
			if len(ev.Message.Attachments) > 0 {
				msg.MediaType = ev.Message.Attachments[0].Type
				msg.MediaURL = ev.Message.Attachments[0].Payload.URL
			}
			h.recordInbound(r, t, "instagram", msg)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Date int64  `json:"date"`
		Text string `json:"text"`
	} `json:"message"`
}

// ReceiveTelegram ingests one Telegram bot update for the tenant in the path.
func (h *Handler) ReceiveTelegram(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	t, err := h.tenants.Get(tenantID)
	if err != nil || !t.Active {
		metrics.WebhookEventsTotal.WithLabelValues("telegram", "unknown_tenant").Inc()
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("telegram", "invalid").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if update.Message == nil || update.Message.Text == "" {
		metrics.WebhookEventsTotal.WithLabelValues("telegram", "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	msg := store.InboundMessage{
		UserID:            strconv.FormatInt(update.Message.Chat.ID, 10),
		Username:          update.Message.From.Username,
		Platform:          model.PlatformTelegram,
		Text:              update.Message.Text,
		Timestamp:         time.Unix(update.Message.Date, 0),
		ProviderMessageID: strconv.FormatInt(update.Message.MessageID, 10),
	}
	h.recordInbound(r, t, "telegram", msg)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) recordInbound(r *http.Request, t *model.Tenant, platform string, msg store.InboundMessage) {
	appended, err := h.store.AppendInbound(r.Context(), t.ID, msg)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(platform, "error").Inc()
		h.logger.Error("failed to record inbound message",
			zap.String("tenant_id", t.ID),
			zap.String("user_id", msg.UserID),
			zap.Error(err),
		)
		return
	}
	if !appended {
		metrics.WebhookEventsTotal.WithLabelValues(platform, "duplicate").Inc()
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues(platform, "accepted").Inc()
	h.audit.Publish(r.Context(), events.Event{
		TenantID:  t.ID,
		UserID:    msg.UserID,
		Kind:      events.KindInbound,
		Text:      msg.Text,
		MessageID: msg.ProviderMessageID,
	})
}

// recordEcho stores a reply the business account sent outside the pipeline
// (e.g. a human admin answering from the Instagram app). It lands in history
// as outbound admin text with no status transition.
func (h *Handler) recordEcho(r *http.Request, t *model.Tenant, userID, mid, text string, ts time.Time) {
	rec := model.MessageRecord{
		Direction:         model.DirectionOut,
		Role:              model.RoleAdmin,
		Text:              text,
		Timestamp:         ts,
		ProviderMessageID: mid,
	}
	appended, err := h.store.AppendEcho(r.Context(), t.ID, userID, rec)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("instagram", "error").Inc()
		h.logger.Error("failed to record echo message",
			zap.String("tenant_id", t.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}
	if appended {
		metrics.WebhookEventsTotal.WithLabelValues("instagram", "echo").Inc()
	} else {
		metrics.WebhookEventsTotal.WithLabelValues("instagram", "duplicate").Inc()
	}
}

func (h *Handler) tenantForInstagramAccount(accountID string) *model.Tenant {
	for _, id := range h.tenants.ActiveTenants() {
		t, err := h.tenants.Get(id)
		if err != nil {
			continue
		}
		if t.InstagramAccountID == accountID {
			return t
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
