package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestInstagramSendSingleMessage(t *testing.T) {
	var gotAuth string
	var gotBody graphSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(graphSendResponse{RecipientID: "u1", MessageID: "mid_1"})
	}))
	defer srv.Close()

	a := NewInstagramAdapterWithBaseURL(srv.URL, testLogger(t))
	tn := &model.Tenant{ID: "shop", InstagramToken: "tok"}

	mids, err := a.Send(context.Background(), tn, "u1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mids) != 1 || mids[0] != "mid_1" {
		t.Errorf("mids = %v", mids)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody.Recipient.ID != "u1" || gotBody.Message.Text != "hello" {
		t.Errorf("request body = %+v", gotBody)
	}
}

func TestInstagramSendSplitsLongText(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		json.NewEncoder(w).Encode(graphSendResponse{MessageID: fmt.Sprintf("mid_%d", count)})
	}))
	defer srv.Close()

	a := NewInstagramAdapterWithBaseURL(srv.URL, testLogger(t))
	tn := &model.Tenant{ID: "shop", InstagramToken: "tok"}

	text := strings.Repeat("a", 900) + "\n\n" + strings.Repeat("b", 900)
	mids, err := a.Send(context.Background(), tn, "u1", text)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mids) != 2 || mids[0] != "mid_1" || mids[1] != "mid_2" {
		t.Errorf("mids = %v", mids)
	}
}

func TestInstagramSendPartialFailureKeepsSentIDs(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		if count > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(graphSendResponse{MessageID: "mid_1"})
	}))
	defer srv.Close()

	a := NewInstagramAdapterWithBaseURL(srv.URL, testLogger(t))
	tn := &model.Tenant{ID: "shop", InstagramToken: "tok"}

	text := strings.Repeat("a", 900) + "\n\n" + strings.Repeat("b", 900)
	mids, err := a.Send(context.Background(), tn, "u1", text)
	if err == nil {
		t.Fatal("expected error on second part")
	}
	if len(mids) != 1 || mids[0] != "mid_1" {
		t.Errorf("mids = %v, want the confirmed first part", mids)
	}
}

func TestInstagramSendRequiresToken(t *testing.T) {
	a := NewInstagramAdapter(testLogger(t))
	if _, err := a.Send(context.Background(), &model.Tenant{ID: "shop"}, "u1", "hi"); err == nil {
		t.Error("expected error without token")
	}
}
