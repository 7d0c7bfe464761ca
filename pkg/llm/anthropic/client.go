// Package anthropic adapts the provider-neutral llm types to the Anthropic
// Messages API via the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/signalpath/enrich-cli/pkg/llm"
)

const defaultModel = "claude-sonnet-4-5-20250929"

// Client implements llm.Provider against the Anthropic API.
type Client struct {
	client sdk.Client
	model  string
}

// Option configures the client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// NewClient creates an Anthropic-backed provider.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the conversation and returns a normalized response. A 429 from
// the API is returned as *llm.RateLimitError carrying the retry-after hint.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if rle := asRateLimit(err); rle != nil {
			return nil, rle
		}
		return nil, eris.Wrap(err, "anthropic: create message")
	}

	return fromSDKMessage(msg), nil
}

// asRateLimit converts an SDK 429 into *llm.RateLimitError, nil otherwise.
func asRateLimit(err error) *llm.RateLimitError {
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return nil
	}
	if apierr.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	var hint time.Duration
	if apierr.Response != nil {
		if raw := apierr.Response.Header.Get("retry-after"); raw != "" {
			if secs, perr := strconv.Atoi(raw); perr == nil {
				hint = time.Duration(secs) * time.Second
			}
		}
	}
	return &llm.RateLimitError{Err: err, RetryAfter: hint}
}

func toSDKMessages(msgs []llm.Message) []sdk.MessageParam {
	var out []sdk.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Input
				if input == nil {
					// The API rejects null tool_use input.
					input = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case llm.RoleTool:
			out = append(out, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolUseID, m.Content, false),
			))
		default:
			if m.Content != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		}
	}
	return out
}

func toSDKTools(tools []llm.ToolDef) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := sdk.ToolParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			InputSchema: toSDKSchema(t.InputSchema),
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &tool})
	}
	return out
}

// toSDKSchema converts the neutral schema into the SDK's input-schema param.
// The SDK type is a thin JSON wrapper, so a marshal round-trip of the plain
// JSON-Schema map is the supported conversion path.
func toSDKSchema(s *llm.Schema) sdk.ToolInputSchemaParam {
	m := SchemaMap(s)
	raw, _ := json.Marshal(m)
	var out sdk.ToolInputSchemaParam
	_ = json.Unmarshal(raw, &out)
	return out
}

// SchemaMap renders the neutral schema as a plain JSON-Schema object,
// preserving required fields, enums, and array item types. Shapes outside
// that subset degrade to a permissive string property.
func SchemaMap(s *llm.Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object"}
	}
	typ := schemaType(s.Type)
	if s.Type == "" {
		switch {
		case len(s.Properties) > 0:
			typ = "object"
		case s.Items != nil:
			typ = "array"
		}
	}
	out := map[string]any{"type": typ}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = SchemaMap(prop)
		}
		out["properties"] = props
	}
	if s.Items != nil {
		out["items"] = SchemaMap(s.Items)
	}
	return out
}

func schemaType(t string) string {
	switch t {
	case "object", "array", "string", "number", "integer", "boolean", "null":
		return t
	default:
		// Unsupported or missing type: permissive string keeps the tool usable.
		return "string"
	}
}

func fromSDKMessage(msg *sdk.Message) *llm.Response {
	resp := &llm.Response{
		StopReason: string(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			var input map[string]any
			if block.Input != nil {
				_ = json.Unmarshal(block.Input, &input)
			}
			if input == nil {
				input = map[string]any{}
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}

	return resp
}

var _ llm.Provider = (*Client)(nil)
