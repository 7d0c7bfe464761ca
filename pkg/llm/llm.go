// Package llm defines the provider-neutral conversation types shared by the
// LLM provider adapters. Each adapter translates these into its provider's
// native wire format; the orchestrator only ever sees this package.
package llm

import (
	"context"
	"errors"
	"time"
)

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversational turn.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"` // assistant turns only
	ToolUseID string     `json:"toolUseId,omitempty"` // tool turns only
	ToolName  string     `json:"toolName,omitempty"`  // tool turns only
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolDef declares a callable tool to the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema *Schema
}

// Schema is the JSON-Schema subset the adapters can translate faithfully:
// required/optional fields, enums, and array item types. Adapters fall back
// to a permissive string schema for shapes outside this subset.
type Schema struct {
	Type        string
	Description string
	Properties  map[string]*Schema
	Required    []string
	Enum        []any
	Items       *Schema
}

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	Model       string // optional per-call model override
	System      string
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int64
	Temperature *float64
}

// Response is a provider-neutral completion response.
type Response struct {
	Content    string
	StopReason string
	ToolCalls  []ToolCall
	Usage      Usage
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Provider is implemented by each backing LLM adapter.
type Provider interface {
	Name() string
	Model() string
	Chat(ctx context.Context, req ChatRequest) (*Response, error)
}

// RateLimitError signals an upstream 429. RetryAfter carries the provider's
// retry hint when one was supplied, zero otherwise.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// AsRateLimit reports whether err is (or wraps) a rate-limit signal, and the
// retry hint if present.
func AsRateLimit(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}
