// Package orchestrator drives the agentic conversation loop: it sends the
// conversation to the LLM, executes every tool call the model requests
// through the MCP gateway, and feeds the results back until the model stops
// asking for tools, the iteration cap trips, or an unrecoverable error ends
// the run.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalpath/enrich-cli/internal/enrich"
	"github.com/signalpath/enrich-cli/internal/resilience"
	"github.com/signalpath/enrich-cli/pkg/llm"
	"github.com/signalpath/enrich-cli/pkg/mcp"
)

// State is the orchestrator's position in its run.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateReady
	StateAwaitingResponse
	StateToolUse
	StateExecutingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateToolUse:
		return "tool_use"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults for the loop's pacing and size controls.
const (
	defaultMaxIterations  = 10
	defaultTruncateAt     = 2000
	defaultCompactAfter   = 12
	defaultKeepRecent     = 8
	defaultToolDelay      = 500 * time.Millisecond
	defaultMinCallSpacing = 2 * time.Second
	defaultMaxTokens      = 4096

	// TruncationMarker terminates tool results cut at the size limit.
	TruncationMarker = "... [truncated]"

	// Final answers shorter than this trigger a summarization pass.
	minFinalLength = 40
)

// Gateway is the slice of the tool service the orchestrator needs.
type Gateway interface {
	Tools(ctx context.Context) ([]llm.ToolDef, error)
	Execute(ctx context.Context, name string, input map[string]any) (*mcp.Result, error)
}

// Outcome is the result of one orchestrator run.
type Outcome struct {
	Response  string
	ToolCalls []enrich.ToolCall
	State     State
	Warnings  []string
}

// Orchestrator runs the tool-calling conversation loop against one provider.
// The finalizer provider, typically the stronger default model, is used only
// for the summarization pass; it may be the same provider.
type Orchestrator struct {
	provider  llm.Provider
	finalizer llm.Provider
	gateway   Gateway
	limiter   *rate.Limiter
	retry     resilience.RetryConfig

	maxIterations int
	truncateAt    int
	compactAfter  int
	keepRecent    int
	toolDelay     time.Duration
	maxTokens     int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFinalizer sets the provider used for the summarization pass.
func WithFinalizer(p llm.Provider) Option {
	return func(o *Orchestrator) {
		o.finalizer = p
	}
}

// WithMaxIterations overrides the tool-round cap.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithToolDelay overrides the pause between tool calls of one turn.
func WithToolDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.toolDelay = d
	}
}

// WithMinCallSpacing overrides the happy-path spacing between LLM calls.
func WithMinCallSpacing(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithRetryConfig overrides the LLM retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) {
		o.retry = cfg
	}
}

// WithTruncateAt overrides the tool-result size limit.
func WithTruncateAt(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.truncateAt = n
		}
	}
}

// WithCompaction overrides the history-compaction thresholds.
func WithCompaction(after, keepRecent int) Option {
	return func(o *Orchestrator) {
		if after > 0 {
			o.compactAfter = after
		}
		if keepRecent > 0 {
			o.keepRecent = keepRecent
		}
	}
}

// New creates an orchestrator over the given provider and gateway.
func New(provider llm.Provider, gateway Gateway, opts ...Option) *Orchestrator {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.InitialBackoff = time.Second
	retry.MaxBackoff = 30 * time.Second

	o := &Orchestrator{
		provider:      provider,
		finalizer:     provider,
		gateway:       gateway,
		limiter:       rate.NewLimiter(rate.Every(defaultMinCallSpacing), 1),
		retry:         retry,
		maxIterations: defaultMaxIterations,
		truncateAt:    defaultTruncateAt,
		compactAfter:  defaultCompactAfter,
		keepRecent:    defaultKeepRecent,
		toolDelay:     defaultToolDelay,
		maxTokens:     defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives the conversation to completion. The tool-call log carries the
// full untruncated results for the reconciler; only the conversation copy is
// truncated.
func (o *Orchestrator) Run(ctx context.Context, system string, messages []llm.Message) (*Outcome, error) {
	out := &Outcome{State: StateInit}

	out.State = StateConnecting
	tools, err := o.gateway.Tools(ctx)
	if err != nil {
		out.State = StateFailed
		return out, eris.Wrap(err, "orchestrator: connect tool service")
	}
	out.State = StateReady

	history := append([]llm.Message(nil), messages...)
	var lastText string

	for round := 0; round < o.maxIterations; round++ {
		out.State = StateAwaitingResponse
		resp, err := o.chat(ctx, llm.ChatRequest{
			System:    system,
			Messages:  history,
			Tools:     tools,
			MaxTokens: o.maxTokens,
		})
		if err != nil {
			out.State = StateFailed
			return out, err
		}

		if resp.Content != "" {
			lastText = resp.Content
		}

		if resp.StopReason != llm.StopToolUse || len(resp.ToolCalls) == 0 {
			out.State = StateDone
			break
		}

		out.State = StateToolUse
		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		out.State = StateExecutingTools
		results, err := o.executeTools(ctx, resp.ToolCalls, out)
		if err != nil {
			out.State = StateFailed
			return out, err
		}
		history = append(history, results...)
		history = o.compact(history)

		if round == o.maxIterations-1 {
			warn := "tool-round cap reached, returning last text"
			out.Warnings = append(out.Warnings, warn)
			zap.L().Warn(warn, zap.Int("rounds", o.maxIterations))
			out.State = StateDone
		}
	}

	final, err := o.finalize(ctx, system, history, lastText)
	if err != nil {
		// Finalization is best effort; keep whatever text we have.
		out.Warnings = append(out.Warnings, "finalization pass failed")
		zap.L().Warn("finalization pass failed", zap.Error(err))
		final = lastText
	}
	out.Response = final
	return out, nil
}

// executeTools runs every tool call of one response sequentially with the
// configured delay, recording full results in the log and truncated copies
// for the conversation.
func (o *Orchestrator) executeTools(ctx context.Context, calls []llm.ToolCall, out *Outcome) ([]llm.Message, error) {
	var results []llm.Message
	for i, call := range calls {
		if i > 0 {
			o.pause(ctx)
		}

		res, err := o.gateway.Execute(ctx, call.Name, call.Input)
		if err != nil {
			return nil, eris.Wrapf(err, "orchestrator: tool %q", call.Name)
		}

		text := res.Text()
		out.ToolCalls = append(out.ToolCalls, enrich.ToolCall{
			ID:     call.ID,
			Name:   call.Name,
			Input:  call.Input,
			Result: text,
		})
		results = append(results, llm.Message{
			Role:      llm.RoleTool,
			ToolUseID: call.ID,
			ToolName:  call.Name,
			Content:   o.truncate(text),
		})

		zap.L().Debug("executed tool",
			zap.String("tool", call.Name),
			zap.Int("result_len", len(text)),
			zap.Bool("business_error", res.IsError()))
	}
	return results, nil
}

// chat sends one LLM request with minimum spacing and rate-limit retry.
// Rate-limit errors retry up to the attempt cap, honoring the provider's
// hint; any other error propagates immediately.
func (o *Orchestrator) chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	cfg := o.retry
	cfg.ShouldRetry = func(err error) bool {
		_, ok := llm.AsRateLimit(err)
		return ok
	}
	cfg.RetryAfterHint = func(err error) time.Duration {
		hint, _ := llm.AsRateLimit(err)
		return hint
	}
	cfg.OnRetry = resilience.RetryLogger(o.provider.Name(), "chat")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*llm.Response, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "orchestrator: wait for call slot")
		}
		resp, err := o.provider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
}

// finalize returns the user-presentable answer. Short or empty final text
// triggers one extra non-tool call on the finalizer model.
func (o *Orchestrator) finalize(ctx context.Context, system string, history []llm.Message, lastText string) (string, error) {
	if len(strings.TrimSpace(lastText)) >= minFinalLength {
		return lastText, nil
	}

	prompt := append([]llm.Message(nil), history...)
	prompt = append(prompt, llm.Message{
		Role:    llm.RoleUser,
		Content: "Summarize the results of this conversation for the user in a few sentences.",
	})

	if err := o.limiter.Wait(ctx); err != nil {
		return lastText, eris.Wrap(err, "orchestrator: wait for call slot")
	}
	resp, err := o.finalizer.Chat(ctx, llm.ChatRequest{
		System:    system,
		Messages:  prompt,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return lastText, eris.Wrap(err, "orchestrator: finalization call")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return lastText, nil
	}
	return resp.Content, nil
}

// compact bounds the history: past the threshold, keep the first turn plus
// the most recent ones, discarding the middle.
func (o *Orchestrator) compact(history []llm.Message) []llm.Message {
	if len(history) <= o.compactAfter {
		return history
	}
	recent := history[len(history)-o.keepRecent:]
	// The cut can land inside a tool round. Tool results whose assistant
	// tool_use turn fell outside the window would be rejected by the
	// providers, so the window starts at the first non-tool turn.
	for len(recent) > 0 && recent[0].Role == llm.RoleTool {
		recent = recent[1:]
	}
	compacted := make([]llm.Message, 0, len(recent)+1)
	compacted = append(compacted, history[0])
	compacted = append(compacted, recent...)
	zap.L().Debug("compacted conversation history",
		zap.Int("before", len(history)),
		zap.Int("after", len(compacted)))
	return compacted
}

// truncate caps one tool result for the conversation copy.
func (o *Orchestrator) truncate(text string) string {
	if len(text) <= o.truncateAt {
		return text
	}
	return text[:o.truncateAt] + TruncationMarker
}

func (o *Orchestrator) pause(ctx context.Context) {
	if o.toolDelay <= 0 {
		return
	}
	timer := time.NewTimer(o.toolDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
