package assistant

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/replystack/commerce-bot/internal/fault"
	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/pkg/logger"
)

const emptyRunList = `{"object":"list","data":[]}`

type stubTool struct {
	mu     sync.Mutex
	name   string
	result string
	calls  int
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Handle(ctx context.Context, tenantID, runID, arguments string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, nil
}

func newRunFixture(t *testing.T, handler http.HandlerFunc, tools *ToolDispatcher) (*OpenAIResponder, *store.MemoryStore) {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st := store.NewMemoryStore(log)
	r, err := NewOpenAIResponderWithBaseURL("test-key", srv.URL+"/v1", st, tools, log, 5*time.Millisecond, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenAIResponderWithBaseURL: %v", err)
	}
	return r, st
}

func runTenant() *model.Tenant {
	return &model.Tenant{ID: "shop", AssistantID: "asst_1", VectorStoreID: "vs_1"}
}

func TestRunTurnTimesOutAsRetryable(t *testing.T) {
	r, _ := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/t1/runs":
			io.WriteString(w, emptyRunList)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/messages":
			io.WriteString(w, `{"id":"msg_1"}`)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/runs":
			io.WriteString(w, `{"id":"run_1","status":"queued"}`)
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/t1/runs/run_1":
			// Never reaches a terminal state.
			io.WriteString(w, `{"id":"run_1","status":"in_progress"}`)
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
	}, nil)

	_, err := r.RunTurn(context.Background(), runTenant(), "t1", []string{"hi"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !fault.IsRetryable(err) {
		t.Errorf("timeout must be retryable, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
}

func TestRunTurnWaitsForActiveRunsThenCompletes(t *testing.T) {
	var mu sync.Mutex
	listCalls := 0
	r, _ := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/t1/runs":
			mu.Lock()
			listCalls++
			n := listCalls
			mu.Unlock()
			if n == 1 {
				// A previous run is still finishing on the thread.
				io.WriteString(w, `{"object":"list","data":[{"id":"run_0","status":"in_progress"}]}`)
			} else {
				io.WriteString(w, emptyRunList)
			}
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/messages":
			io.WriteString(w, `{"id":"msg_1"}`)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/runs":
			io.WriteString(w, `{"id":"run_1","status":"completed"}`)
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/t1/messages":
			io.WriteString(w, `{"object":"list","data":[{"id":"msg_2","role":"assistant","content":[{"type":"text","text":{"value":"Open 9-6[1:0] daily.","annotations":[]}}]}]}`)
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
	}, nil)

	text, err := r.RunTurn(context.Background(), runTenant(), "t1", []string{"are you open?"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if text != "Open 9-6 daily." {
		t.Errorf("text = %q, want citation-stripped reply", text)
	}
	if listCalls < 2 {
		t.Errorf("listCalls = %d, want the submit to wait out the active run", listCalls)
	}
}

func TestRunTurnToolCallShortCircuits(t *testing.T) {
	tool := &stubTool{name: "create_order", result: "Order 1001 registered."}
	var mu sync.Mutex
	submitted := false
	r, _ := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/t1/runs":
			io.WriteString(w, emptyRunList)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/messages":
			io.WriteString(w, `{"id":"msg_1"}`)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/runs":
			io.WriteString(w, `{"id":"run_1","status":"requires_action","required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"create_order","arguments":"{\"tx_id\":1001,\"product\":\"mug\"}"}}]}}}`)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/runs/run_1/submit_tool_outputs":
			mu.Lock()
			submitted = true
			mu.Unlock()
			io.WriteString(w, `{"id":"run_1","status":"completed"}`)
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
	}, NewToolDispatcher(tool))

	text, err := r.RunTurn(context.Background(), runTenant(), "t1", []string{"I want a mug"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if text != "Order 1001 registered." {
		t.Errorf("text = %q, want the tool handler result", text)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1", tool.calls)
	}
	if !submitted {
		t.Error("tool outputs must be submitted so the run is not left dangling")
	}
}

func TestRunTurnFailedRunIsRetryable(t *testing.T) {
	r, _ := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/t1/runs":
			io.WriteString(w, emptyRunList)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/messages":
			io.WriteString(w, `{"id":"msg_1"}`)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads/t1/runs":
			io.WriteString(w, `{"id":"run_1","status":"failed","last_error":{"code":"rate_limit_exceeded","message":"rate limited"}}`)
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
	}, nil)

	_, err := r.RunTurn(context.Background(), runTenant(), "t1", []string{"hi"})
	if err == nil || !fault.IsRetryable(err) {
		t.Errorf("failed run must surface retryable, got %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("upstream error message lost: %v", err)
	}
}

func TestRunTurnRequiresAssistantConfig(t *testing.T) {
	r, _ := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		t.Errorf("no request expected, got %s %s", req.Method, req.URL.Path)
	}, nil)

	_, err := r.RunTurn(context.Background(), &model.Tenant{ID: "shop"}, "t1", []string{"hi"})
	if err == nil || !fault.IsPermanent(err) {
		t.Errorf("missing assistant must be permanent, got %v", err)
	}
}

func TestEnsureThreadRecreatesInvalidThread(t *testing.T) {
	r, st := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/thread_old":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"message":"No thread found","type":"invalid_request_error"}}`)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads":
			io.WriteString(w, `{"id":"thread_new","object":"thread"}`)
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
	}, nil)

	ctx := context.Background()
	st.AppendInbound(ctx, "shop", store.InboundMessage{UserID: "u1", Platform: model.PlatformInstagram, Text: "hi", Timestamp: time.Now(), ProviderMessageID: "m1"})
	st.SetThreadID(ctx, "shop", "u1", "thread_old")

	conv, _ := st.Get(ctx, "shop", "u1")
	threadID, err := r.EnsureThread(ctx, runTenant(), conv)
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	if threadID != "thread_new" {
		t.Errorf("threadID = %q", threadID)
	}

	conv, _ = st.Get(ctx, "shop", "u1")
	if conv.ThreadID != "thread_new" {
		t.Errorf("persisted thread = %q, want the recreated one", conv.ThreadID)
	}
}

func TestEnsureThreadKeepsValidThread(t *testing.T) {
	created := false
	r, st := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/v1/threads/thread_ok":
			io.WriteString(w, `{"id":"thread_ok","object":"thread"}`)
		case req.Method == http.MethodPost && req.URL.Path == "/v1/threads":
			created = true
			io.WriteString(w, `{"id":"thread_unwanted"}`)
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
	}, nil)

	ctx := context.Background()
	st.AppendInbound(ctx, "shop", store.InboundMessage{UserID: "u1", Platform: model.PlatformInstagram, Text: "hi", Timestamp: time.Now(), ProviderMessageID: "m1"})
	st.SetThreadID(ctx, "shop", "u1", "thread_ok")

	conv, _ := st.Get(ctx, "shop", "u1")
	threadID, err := r.EnsureThread(ctx, runTenant(), conv)
	if err != nil || threadID != "thread_ok" {
		t.Errorf("threadID = %q err = %v", threadID, err)
	}
	if created {
		t.Error("valid thread must not be recreated")
	}
}

func TestEnsureThreadRequiresVectorStore(t *testing.T) {
	r, _ := newRunFixture(t, func(w http.ResponseWriter, req *http.Request) {
		t.Errorf("no request expected, got %s %s", req.Method, req.URL.Path)
	}, nil)

	conv := &model.Conversation{TenantID: "shop", UserID: "u1"}
	_, err := r.EnsureThread(context.Background(), &model.Tenant{ID: "shop", AssistantID: "asst_1"}, conv)
	if err == nil || !fault.IsPermanent(err) {
		t.Errorf("missing knowledge base must be permanent, got %v", err)
	}
}
