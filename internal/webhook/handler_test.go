package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/internal/tenant"
	"github.com/replystack/commerce-bot/pkg/logger"
)

func newTestHandler(t *testing.T) (*Handler, *store.MemoryStore) {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	st := store.NewMemoryStore(log)
	tenants := tenant.NewStaticProvider(&model.Tenant{
		ID:                 "shop",
		Active:             true,
		AssistantEnabled:   true,
		InstagramAccountID: "ig_123",
	})
	return NewHandler(st, tenants, nil, log, "secret-verify"), st
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestVerifyInstagramHandshake(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=secret-verify&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "12345" {
		t.Errorf("status=%d body=%q, want 200 with echoed challenge", w.Code, w.Body.String())
	}
}

func TestVerifyInstagramRejectsBadToken(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func instagramPayload(accountID, sender, mid, text string, echo bool, ts time.Time) string {
	return fmt.Sprintf(`{
		"object": "instagram",
		"entry": [{
			"id": %q,
			"time": %d,
			"messaging": [{
				"sender": {"id": %q},
				"recipient": {"id": "other_side"},
				"timestamp": %d,
				"message": {"mid": %q, "text": %q, "is_echo": %t}
			}]
		}]
	}`, accountID, ts.UnixMilli(), sender, ts.UnixMilli(), mid, text, echo)
}

func TestReceiveInstagramRecordsMessage(t *testing.T) {
	h, st := newTestHandler(t)
	r := newTestRouter(h)

	body := instagramPayload("ig_123", "user_9", "mid_1", "Hi there", false, time.Now())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	conv, err := st.Get(context.Background(), "shop", "user_9")
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if conv.Status != model.StatusWaiting || conv.Messages[0].Text != "Hi there" {
		t.Errorf("conversation = %+v", conv)
	}
	if conv.Platform != model.PlatformInstagram {
		t.Errorf("platform = %s", conv.Platform)
	}
}

func TestReceiveInstagramRedeliveryIsIdempotent(t *testing.T) {
	h, st := newTestHandler(t)
	r := newTestRouter(h)

	body := instagramPayload("ig_123", "user_9", "mid_1", "Hi", false, time.Now())
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i, w.Code)
		}
	}

	conv, _ := st.Get(context.Background(), "shop", "user_9")
	if len(conv.Messages) != 1 {
		t.Errorf("messages = %d, want 1 after redeliveries", len(conv.Messages))
	}
}

func TestReceiveInstagramEchoRecordedAsAdmin(t *testing.T) {
	h, st := newTestHandler(t)
	r := newTestRouter(h)

	// User writes first, then the business answers from the Instagram app.
	inbound := instagramPayload("ig_123", "user_9", "mid_1", "Hi", false, time.Now())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(inbound)))

	echo := instagramPayload("ig_123", "business", "mid_2", "We are closed today", true, time.Now())
	// Echo events carry the user as recipient.
	echo = strings.Replace(echo, `"recipient": {"id": "other_side"}`, `"recipient": {"id": "user_9"}`, 1)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(echo)))

	conv, _ := st.Get(context.Background(), "shop", "user_9")
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(conv.Messages))
	}
	rec := conv.Messages[1]
	if rec.Direction != model.DirectionOut || rec.Role != model.RoleAdmin {
		t.Errorf("echo record = %+v", rec)
	}
	if conv.Status != model.StatusWaiting {
		t.Errorf("echo must not change status, got %s", conv.Status)
	}
}

func TestReceiveInstagramUnknownAccountIsAccepted(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	body := instagramPayload("ig_unknown", "user_9", "mid_1", "Hi", false, time.Now())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(body)))

	// 200 keeps the platform from hammering us with retries for accounts we
	// no longer serve.
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReceiveInstagramMalformedPayload(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader("{broken")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestReceiveTelegramUpdate(t *testing.T) {
	h, st := newTestHandler(t)
	r := newTestRouter(h)

	body := `{
		"update_id": 99,
		"message": {
			"message_id": 7,
			"from": {"id": 1234, "username": "ana"},
			"chat": {"id": 1234},
			"date": 1750000000,
			"text": "do you deliver?"
		}
	}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/telegram/shop", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	conv, err := st.Get(context.Background(), "shop", "1234")
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if conv.Platform != model.PlatformTelegram || conv.Username != "ana" {
		t.Errorf("conversation = %+v", conv)
	}
	if conv.Messages[0].ProviderMessageID != "7" {
		t.Errorf("provider id = %q", conv.Messages[0].ProviderMessageID)
	}
}

func TestReceiveTelegramUnknownTenant(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/telegram/ghost", strings.NewReader(`{}`)))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
