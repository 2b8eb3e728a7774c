// Package assistant adapts the OpenAI Assistants API to the session
// manager's vendor contract. The API has no push channel for run state, so
// the adapter polls the run and translates status changes into run events.
//
// Polling cannot observe partial output, so this adapter emits no RunDelta
// events: each reply arrives whole as RunCompleted and the manager's chunk
// handling sits idle behind it. A streaming-capable client would slot in by
// emitting RunDelta from the same vendor contract.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/partnerdesk/backend/internal/ai"
)

const (
	defaultPollInterval = 1 * time.Second
	callTimeout         = 30 * time.Second
)

// Client drives assistant threads and runs for one configured assistant.
type Client struct {
	api         *openai.Client
	assistantID string
	poll        time.Duration
	log         *slog.Logger
}

// Option tweaks the client.
type Option func(*Client)

// WithPollInterval overrides how often run state is polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.poll = d }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(token, url string) Option {
	return func(c *Client) {
		cfg := openai.DefaultConfig(token)
		cfg.BaseURL = url
		c.api = openai.NewClientWithConfig(cfg)
	}
}

// New builds a client for the given API token and assistant.
func New(token, assistantID string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		api:         openai.NewClient(token),
		assistantID: assistantID,
		poll:        defaultPollInterval,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateThread starts a fresh conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", classify(err)
	}
	return thread.ID, nil
}

// AddUserMessage appends the user's message to the thread.
func (c *Client) AddUserMessage(ctx context.Context, threadID, text string) error {
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// StartRun creates a run on the thread and begins polling it.
func (c *Client) StartRun(ctx context.Context, threadID string) (ai.RunHandle, error) {
	created, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return nil, classify(err)
	}
	r := &run{
		c:        c,
		threadID: threadID,
		runID:    created.ID,
		events:   make(chan ai.RunEvent, 8),
		resume:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// run is one polled assistant run.
type run struct {
	c        *Client
	threadID string
	runID    string

	events chan ai.RunEvent
	resume chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

func (r *run) Events() <-chan ai.RunEvent { return r.events }

// SubmitToolOutputs resumes a run paused on tool calls.
func (r *run) SubmitToolOutputs(ctx context.Context, outputs []ai.ToolOutput) error {
	req := openai.SubmitToolOutputsRequest{
		ToolOutputs: make([]openai.ToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: out.CallID,
			Output:     out.Output,
		})
	}
	if _, err := r.c.api.SubmitToolOutputs(ctx, r.threadID, r.runID, req); err != nil {
		return classify(err)
	}
	select {
	case r.resume <- struct{}{}:
	default:
	}
	return nil
}

// Cancel stops polling and asks the API to cancel the run.
func (r *run) Cancel(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	if _, err := r.c.api.CancelRun(ctx, r.threadID, r.runID); err != nil {
		return classify(err)
	}
	return nil
}

// loop polls the run until a terminal status, emitting events along the way.
func (r *run) loop() {
	defer close(r.events)
	for {
		select {
		case <-r.stop:
			return
		case <-time.After(r.c.poll):
		}

		state, err := r.retrieve()
		if err != nil {
			r.emit(ai.RunEvent{Kind: ai.RunFailed, Err: err})
			return
		}

		switch state.Status {
		case openai.RunStatusQueued, openai.RunStatusInProgress:
			continue

		case openai.RunStatusRequiresAction:
			calls := toolCalls(state)
			if len(calls) == 0 {
				r.emit(ai.RunEvent{Kind: ai.RunFailed, Err: classify(fmt.Errorf("run %s requires action without tool calls", r.runID))})
				return
			}
			if !r.emit(ai.RunEvent{Kind: ai.RunToolCalls, Calls: calls}) {
				return
			}
			select {
			case <-r.resume:
			case <-r.stop:
				return
			}

		case openai.RunStatusCompleted:
			final, err := r.c.latestAssistantReply(r.threadID)
			if err != nil {
				r.emit(ai.RunEvent{Kind: ai.RunFailed, Err: err})
				return
			}
			r.emit(ai.RunEvent{Kind: ai.RunCompleted, Final: final})
			return

		case openai.RunStatusCancelling, openai.RunStatus("cancelled"):
			// Cancellation was ours; the manager has already moved on.
			return

		default:
			r.emit(ai.RunEvent{Kind: ai.RunFailed, Err: runError(state)})
			return
		}
	}
}

func (r *run) retrieve() (openai.Run, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	state, err := r.c.api.RetrieveRun(ctx, r.threadID, r.runID)
	if err != nil {
		return openai.Run{}, classify(err)
	}
	return state, nil
}

func (r *run) emit(ev ai.RunEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.stop:
		return false
	}
}

func toolCalls(state openai.Run) []ai.ToolCall {
	ra := state.RequiredAction
	if ra == nil || ra.SubmitToolOutputs == nil {
		return nil
	}
	calls := make([]ai.ToolCall, 0, len(ra.SubmitToolOutputs.ToolCalls))
	for _, tc := range ra.SubmitToolOutputs.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		calls = append(calls, ai.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return calls
}

// latestAssistantReply reads back the newest assistant message on the thread.
func (c *Client) latestAssistantReply(threadID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	limit := 20
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil)
	if err != nil {
		return "", classify(err)
	}
	for _, msg := range list.Messages {
		if msg.Role != "assistant" {
			continue
		}
		var parts []string
		for _, content := range msg.Content {
			if content.Text != nil {
				parts = append(parts, content.Text.Value)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
	return "", classify(fmt.Errorf("thread %s has no assistant reply", threadID))
}
