package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/fault"
	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/metrics"
)

// OpenAIResponder drives the OpenAI Assistants thread/run lifecycle.
type OpenAIResponder struct {
	client       *openai.Client
	store        store.ConversationStore
	tools        *ToolDispatcher
	logger       *logger.Logger
	pollInterval time.Duration
	runTimeout   time.Duration
}

// NewOpenAIResponder creates an OpenAI-backed responder.
func NewOpenAIResponder(apiKey string, st store.ConversationStore, tools *ToolDispatcher, log *logger.Logger, pollInterval, runTimeout time.Duration) (*OpenAIResponder, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIResponder{
		client:       openai.NewClient(apiKey),
		store:        st,
		tools:        tools,
		logger:       log,
		pollInterval: pollInterval,
		runTimeout:   runTimeout,
	}, nil
}

// NewOpenAIResponderWithBaseURL creates a responder against a custom API
// endpoint; used in tests.
func NewOpenAIResponderWithBaseURL(apiKey, baseURL string, st store.ConversationStore, tools *ToolDispatcher, log *logger.Logger, pollInterval, runTimeout time.Duration) (*OpenAIResponder, error) {
	r, err := NewOpenAIResponder(apiKey, st, tools, log, pollInterval, runTimeout)
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	r.client = openai.NewClientWithConfig(cfg)
	return r, nil
}

// Name returns the provider name.
func (r *OpenAIResponder) Name() string {
	return "openai"
}

// EnsureThread validates the conversation's thread upstream, creating and
// persisting a new one bound to the tenant's knowledge base when needed.
func (r *OpenAIResponder) EnsureThread(ctx context.Context, tenant *model.Tenant, conv *model.Conversation) (string, error) {
	if conv.ThreadID != "" {
		if _, err := r.client.RetrieveThread(ctx, conv.ThreadID); err == nil {
			return conv.ThreadID, nil
		}
		r.logger.Warn("existing thread invalid, creating new one",
			zap.String("tenant_id", tenant.ID),
			zap.String("user_id", conv.UserID),
			zap.String("thread_id", conv.ThreadID),
		)
	}

	if tenant.VectorStoreID == "" {
		return "", fault.Permanent("tenant %s has no vector store configured", tenant.ID)
	}

	thread, err := r.client.CreateThread(ctx, openai.ThreadRequest{
		ToolResources: &openai.ToolResourcesRequest{
			FileSearch: &openai.FileSearchToolResourcesRequest{
				VectorStoreIDs: []string{tenant.VectorStoreID},
			},
		},
	})
	if err != nil {
		if isAPIError(err) {
			return "", fault.Retryable("thread creation failed: %w", err)
		}
		return "", fault.Permanent("thread creation permanently failed: %w", err)
	}

	if err := r.store.SetThreadID(ctx, tenant.ID, conv.UserID, thread.ID); err != nil {
		r.logger.Warn("failed to persist thread id",
			zap.String("tenant_id", tenant.ID),
			zap.String("user_id", conv.UserID),
			zap.Error(err),
		)
	}
	return thread.ID, nil
}

// RunTurn submits the batch as one run under the tenant's assistant and
// polls it to a terminal state.
func (r *OpenAIResponder) RunTurn(ctx context.Context, tenant *model.Tenant, threadID string, texts []string) (string, error) {
	if tenant.AssistantID == "" {
		return "", fault.Permanent("tenant %s has no assistant configured", tenant.ID)
	}

	if err := r.waitForActiveRuns(ctx, threadID); err != nil {
		return "", err
	}

	content := JoinBatch(texts)
	if _, err := r.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	}); err != nil {
		return "", fault.Retryable("failed to create thread message: %w", err)
	}

	run, err := r.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: tenant.AssistantID,
	})
	if err != nil {
		return "", fault.Retryable("failed to create run: %w", err)
	}

	attempt := model.RunAttempt{
		ThreadID:  threadID,
		RunID:     run.ID,
		Status:    string(run.Status),
		StartedAt: time.Now(),
	}
	r.logger.Info("run created",
		zap.String("thread_id", threadID),
		zap.String("run_id", run.ID),
	)

	text, err := r.pollRun(ctx, tenant, &attempt, run)
	metrics.RecordRun(r.Name(), attempt.Status, time.Since(attempt.StartedAt).Seconds())
	return text, err
}

// pollRun polls the run on a fixed interval until it reaches a terminal
// state or the overall budget elapses. A tool-call request short-circuits
// text extraction with the handler result.
func (r *OpenAIResponder) pollRun(ctx context.Context, tenant *model.Tenant, attempt *model.RunAttempt, run openai.Run) (string, error) {
	deadline := attempt.StartedAt.Add(r.runTimeout)

	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			attempt.Status = string(run.Status)
			text, err := r.latestMessageText(ctx, attempt.ThreadID)
			if err != nil {
				return "", err
			}
			return CleanCitations(text), nil

		case openai.RunStatusRequiresAction:
			text, handled, err := r.handleToolCalls(ctx, tenant, attempt, run)
			if err != nil {
				attempt.Status = "tool_failed"
				return "", err
			}
			if handled {
				attempt.Status = "tool_handled"
				return text, nil
			}

		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired:
			attempt.Status = string(run.Status)
			msg := ""
			if run.LastError != nil {
				msg = run.LastError.Message
			}
			return "", fault.Retryable("run %s ended with status %s: %s", run.ID, run.Status, msg)
		}

		if time.Now().After(deadline) {
			attempt.Status = "timeout"
			return "", fault.Retryable("run %s timed out after %s", run.ID, r.runTimeout)
		}

		select {
		case <-ctx.Done():
			attempt.Status = "cancelled"
			return "", fault.Retryable("run poll cancelled: %w", ctx.Err())
		case <-time.After(r.pollInterval):
		}

		var err error
		run, err = r.client.RetrieveRun(ctx, attempt.ThreadID, attempt.RunID)
		if err != nil {
			attempt.Status = "poll_error"
			return "", fault.Retryable("failed to poll run: %w", err)
		}
	}
}

// handleToolCalls dispatches requested function calls to domain handlers,
// submits their outputs upstream, and returns the joined handler text.
func (r *OpenAIResponder) handleToolCalls(ctx context.Context, tenant *model.Tenant, attempt *model.RunAttempt, run openai.Run) (string, bool, error) {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return "", false, nil
	}

	var results []string
	var outputs []openai.ToolOutput
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		if call.Type != openai.ToolTypeFunction {
			continue
		}
		result, err := r.tools.Dispatch(ctx, tenant.ID, run.ID, call.Function.Name, call.Function.Arguments)
		if err != nil {
			return "", false, fault.Permanent("tool call %s failed: %w", call.Function.Name, err)
		}
		attempt.ToolCallsHandled++
		results = append(results, result)
		outputs = append(outputs, openai.ToolOutput{
			ToolCallID: call.ID,
			Output:     result,
		})
	}

	if len(outputs) == 0 {
		return "", false, nil
	}

	// Close out the run upstream so the thread is not left with a dangling
	// requires_action run; the user-facing response is the handler result.
	if _, err := r.client.SubmitToolOutputs(ctx, attempt.ThreadID, attempt.RunID, openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	}); err != nil {
		r.logger.Warn("failed to submit tool outputs",
			zap.String("run_id", attempt.RunID),
			zap.Error(err),
		)
	}

	return strings.Join(results, "\n"), true, nil
}

// waitForActiveRuns blocks until no other run is queued or in progress on
// the thread. The external service rejects concurrent runs per thread. The
// wait is bounded only by the caller's context.
func (r *OpenAIResponder) waitForActiveRuns(ctx context.Context, threadID string) error {
	limit := 20
	for {
		runs, err := r.client.ListRuns(ctx, threadID, openai.Pagination{Limit: &limit})
		if err != nil {
			return fault.Retryable("failed to list active runs: %w", err)
		}

		active := 0
		for _, run := range runs.Runs {
			if run.Status == openai.RunStatusQueued || run.Status == openai.RunStatusInProgress {
				active++
			}
		}
		if active == 0 {
			return nil
		}

		r.logger.Info("waiting for active runs to complete",
			zap.String("thread_id", threadID),
			zap.Int("active", active),
		)

		select {
		case <-ctx.Done():
			return fault.Retryable("wait for active runs cancelled: %w", ctx.Err())
		case <-time.After(r.pollInterval):
		}
	}
}

// latestMessageText extracts the text of the newest assistant message.
func (r *OpenAIResponder) latestMessageText(ctx context.Context, threadID string) (string, error) {
	limit := 1
	order := "desc"
	msgs, err := r.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fault.Retryable("failed to list thread messages: %w", err)
	}
	if len(msgs.Messages) == 0 {
		return "", fault.Permanent("no messages in thread %s", threadID)
	}

	for _, part := range msgs.Messages[0].Content {
		if part.Type == "text" && part.Text != nil && strings.TrimSpace(part.Text.Value) != "" {
			return part.Text.Value, nil
		}
	}
	return "", fault.Permanent("empty response from assistant in thread %s", threadID)
}

func isAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return true
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr)
}
