// Package gemini adapts the provider-neutral llm types to Google's
// generativelanguage REST API. Gemini's native tool schema differs from
// Anthropic's (upper-case OpenAPI types, string-only enums, no tool-call
// IDs), so the translation here is deliberately lossy-but-safe: anything the
// Gemini schema cannot express degrades to a permissive string field.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/signalpath/enrich-cli/pkg/llm"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
)

// Client implements llm.Provider against the Gemini API.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a Gemini-backed provider.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "gemini"
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the conversation and returns a normalized response. A 429 is
// returned as *llm.RateLimitError; the hint is taken from the retry-after
// header or the RetryInfo error detail when present.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	wire := &generateContentRequest{
		Contents: toContents(req.Messages),
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		wire.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		wire.Tools = []tool{{FunctionDeclarations: toDeclarations(req.Tools)}}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal request")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: send request")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: read response")
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, &llm.RateLimitError{
			Err:        eris.Errorf("gemini: rate limited: %s", string(respBody)),
			RetryAfter: retryHint(httpResp, respBody),
		}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("gemini: unexpected status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp generateContentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, eris.Wrap(err, "gemini: unmarshal response")
	}
	if resp.Error != nil {
		return nil, eris.Errorf("gemini: api error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	return fromResponse(&resp), nil
}

// retryHint extracts a retry delay from the retry-after header or the
// google.rpc.RetryInfo error detail.
func retryHint(resp *http.Response, body []byte) time.Duration {
	if raw := resp.Header.Get("retry-after"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return 0
	}
	for _, d := range envelope.Error.Details {
		if d.RetryDelay == "" {
			continue
		}
		if dur, err := time.ParseDuration(d.RetryDelay); err == nil {
			return dur
		}
	}
	return 0
}

func toContents(msgs []llm.Message) []content {
	var out []content
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleAssistant:
			parts := []part{}
			if m.Content != "" {
				parts = append(parts, part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, part{
					FunctionCall: &functionCall{Name: tc.Name, Args: tc.Input},
				})
			}
			if len(parts) > 0 {
				out = append(out, content{Role: "model", Parts: parts})
			}
		case llm.RoleTool:
			// Gemini has no tool-call IDs; the called function's bare name is
			// the correlation key, so the synthetic ID must never leak here.
			name := m.ToolName
			if name == "" {
				name = m.ToolUseID
			}
			out = append(out, content{
				Role: "function",
				Parts: []part{{
					FunctionResponse: &functionResponse{
						Name:     name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		case llm.RoleSystem:
			// System content travels in systemInstruction, never in contents.
		default:
			if m.Content != "" {
				out = append(out, content{Role: "user", Parts: []part{{Text: m.Content}}})
			}
		}
	}
	return out
}

func toDeclarations(tools []llm.ToolDef) []functionDeclaration {
	out := make([]functionDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, functionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toSchema(t.InputSchema),
		})
	}
	return out
}

// toSchema converts the neutral schema to Gemini's restricted shape.
// Required fields, enums, and array item types survive the translation;
// anything else falls back to a permissive STRING field.
func toSchema(s *llm.Schema) *schema {
	if s == nil {
		return &schema{Type: "OBJECT"}
	}
	out := &schema{
		Type:        geminiType(s),
		Description: s.Description,
		Required:    s.Required,
	}
	for _, e := range s.Enum {
		// Gemini enums are string-only.
		if str, ok := e.(string); ok {
			out.Enum = append(out.Enum, str)
		}
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = *toSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toSchema(s.Items)
	}
	return out
}

func geminiType(s *llm.Schema) string {
	switch s.Type {
	case "object":
		return "OBJECT"
	case "array":
		return "ARRAY"
	case "string":
		return "STRING"
	case "number":
		return "NUMBER"
	case "integer":
		return "INTEGER"
	case "boolean":
		return "BOOLEAN"
	case "":
		if len(s.Properties) > 0 {
			return "OBJECT"
		}
		if s.Items != nil {
			return "ARRAY"
		}
		return "STRING"
	default:
		return "STRING"
	}
}

func fromResponse(resp *generateContentResponse) *llm.Response {
	out := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}

	if len(resp.Candidates) == 0 {
		out.StopReason = llm.StopEndTurn
		return out
	}

	cand := resp.Candidates[0]
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			out.Content += p.Text
		}
		if p.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				// Synthesize an ID: Gemini does not provide one, and the
				// orchestrator correlates results by ID.
				ID:    p.FunctionCall.Name + "-" + uuid.NewString(),
				Name:  p.FunctionCall.Name,
				Input: p.FunctionCall.Args,
			})
		}
	}

	switch cand.FinishReason {
	case "STOP":
		out.StopReason = llm.StopEndTurn
	case "MAX_TOKENS":
		out.StopReason = llm.StopMaxTokens
	default:
		out.StopReason = strings.ToLower(cand.FinishReason)
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = llm.StopToolUse
	}

	return out
}

var _ llm.Provider = (*Client)(nil)
