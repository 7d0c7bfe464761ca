// Package mcp wraps the MCP tool service behind a small gateway: lazy
// connection, a cached tool catalog translated to the neutral llm schema,
// and a single Execute entry point that normalizes the result shapes the
// service returns.
package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/signalpath/enrich-cli/pkg/llm"
)

// ErrorMarker prefixes tool results that represent business-level failures
// (tool ran, but reported an error). Transport failures surface as Go errors
// instead.
const ErrorMarker = "TOOL_ERROR:"

const clientName = "enrich-cli"

// Gateway is the tool-service client used by the orchestrator and the
// reconciler. Connection and tool discovery happen lazily on first use.
type Gateway struct {
	url     string
	headers map[string]string

	once    sync.Once
	initErr error
	client  *mcpclient.Client
	tools   []llm.ToolDef
}

// Option configures the gateway.
type Option func(*Gateway)

// WithHeaders sets extra HTTP headers sent on every request, typically
// authorization.
func WithHeaders(h map[string]string) Option {
	return func(g *Gateway) {
		g.headers = h
	}
}

// NewGateway creates an unconnected gateway for the given streamable-HTTP
// endpoint. The first call that needs the connection dials and initializes.
func NewGateway(url string, opts ...Option) *Gateway {
	g := &Gateway{url: url}
	for _, o := range opts {
		o(g)
	}
	return g
}

// connect dials, runs the MCP initialize handshake, and caches the tool
// catalog. Safe for concurrent callers; only the first does the work.
func (g *Gateway) connect(ctx context.Context) error {
	g.once.Do(func() {
		var copts []transport.StreamableHTTPCOption
		if len(g.headers) > 0 {
			copts = append(copts, transport.WithHTTPHeaders(g.headers))
		}

		c, err := mcpclient.NewStreamableHttpClient(g.url, copts...)
		if err != nil {
			g.initErr = eris.Wrap(err, "mcp: create client")
			return
		}
		if err := c.Start(ctx); err != nil {
			g.initErr = eris.Wrap(err, "mcp: start transport")
			return
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1.0.0"}
		if _, err := c.Initialize(ctx, initReq); err != nil {
			g.initErr = eris.Wrap(err, "mcp: initialize")
			return
		}

		listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			g.initErr = eris.Wrap(err, "mcp: list tools")
			return
		}

		g.client = c
		g.tools = toToolDefs(listed.Tools)
		zap.L().Info("connected to tool service",
			zap.String("url", g.url),
			zap.Int("tools", len(g.tools)))
	})
	return g.initErr
}

// Tools returns the discovered tool catalog, connecting if needed.
func (g *Gateway) Tools(ctx context.Context) ([]llm.ToolDef, error) {
	if err := g.connect(ctx); err != nil {
		return nil, err
	}
	return g.tools, nil
}

// HasTool reports whether the service advertises the named tool.
func (g *Gateway) HasTool(ctx context.Context, name string) (bool, error) {
	tools, err := g.Tools(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tools {
		if t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Execute invokes a tool and returns its normalized result. A nil error with
// Result.IsError()==true means the tool itself reported a failure.
func (g *Gateway) Execute(ctx context.Context, name string, input map[string]any) (*Result, error) {
	if err := g.connect(ctx); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = input

	res, err := g.client.CallTool(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "mcp: call tool %q", name)
	}

	text := joinContent(res.Content)
	if res.IsError && !strings.HasPrefix(text, ErrorMarker) {
		text = ErrorMarker + " " + text
	}
	return &Result{text: text}, nil
}

// Close tears down the transport. A gateway that never connected closes
// cleanly.
func (g *Gateway) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return eris.Wrap(err, "mcp: close")
	}
	return nil
}

// Result is a normalized tool invocation outcome.
type Result struct {
	text string
}

// NewResult builds a result from raw text. Useful for fakes in tests of
// gateway consumers.
func NewResult(text string) *Result {
	return &Result{text: text}
}

// Text returns the tool output as a single string.
func (r *Result) Text() string {
	return r.text
}

// IsError reports whether the output carries the business-error marker.
func (r *Result) IsError() bool {
	return strings.HasPrefix(r.text, ErrorMarker)
}

// joinContent flattens the content blocks of a tool result. Text blocks
// concatenate; structured blocks render as JSON so nothing is dropped.
func joinContent(blocks []mcp.Content) string {
	var parts []string
	for _, b := range blocks {
		switch c := b.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			if raw, err := json.Marshal(b); err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// toToolDefs converts the service's tool catalog into the neutral schema the
// provider adapters understand.
func toToolDefs(tools []mcp.Tool) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toSchema(t.InputSchema),
		})
	}
	return out
}

func toSchema(in mcp.ToolInputSchema) *llm.Schema {
	s := &llm.Schema{
		Type:     in.Type,
		Required: in.Required,
	}
	if s.Type == "" {
		s.Type = "object"
	}
	if len(in.Properties) > 0 {
		s.Properties = make(map[string]*llm.Schema, len(in.Properties))
		for name, raw := range in.Properties {
			prop, ok := raw.(map[string]any)
			if !ok {
				s.Properties[name] = &llm.Schema{Type: "string"}
				continue
			}
			s.Properties[name] = fromSchemaMap(prop)
		}
	}
	return s
}

// fromSchemaMap lifts a raw JSON-Schema map into the neutral schema. Only
// the subset the adapters translate is kept.
func fromSchemaMap(m map[string]any) *llm.Schema {
	s := &llm.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = t
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if e, ok := m["enum"].([]any); ok {
		s.Enum = e
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if str, ok := r.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*llm.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = fromSchemaMap(pm)
			} else {
				s.Properties[name] = &llm.Schema{Type: "string"}
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = fromSchemaMap(items)
	}
	return s
}
