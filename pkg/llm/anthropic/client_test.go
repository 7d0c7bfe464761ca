package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpath/enrich-cli/pkg/llm"
)

func TestSchemaMap(t *testing.T) {
	t.Parallel()

	in := &llm.Schema{
		Type:        "object",
		Description: "resolution request",
		Properties: map[string]*llm.Schema{
			"identifiers": {Type: "array", Items: &llm.Schema{Type: "string"}},
			"kind":        {Type: "string", Enum: []any{"email", "phone"}},
		},
		Required: []string{"identifiers"},
	}

	out := SchemaMap(in)
	assert.Equal(t, "object", out["type"])
	assert.Equal(t, "resolution request", out["description"])
	assert.Equal(t, []string{"identifiers"}, out["required"])

	props, ok := out["properties"].(map[string]any)
	require.True(t, ok)

	ids := props["identifiers"].(map[string]any)
	assert.Equal(t, "array", ids["type"])
	assert.Equal(t, "string", ids["items"].(map[string]any)["type"])

	kind := props["kind"].(map[string]any)
	assert.Equal(t, []any{"email", "phone"}, kind["enum"])
}

func TestSchemaMap_Degradation(t *testing.T) {
	t.Parallel()

	// Nil schema still yields a valid object schema.
	assert.Equal(t, map[string]any{"type": "object"}, SchemaMap(nil))

	// Unknown types degrade to string.
	assert.Equal(t, "string", SchemaMap(&llm.Schema{Type: "tuple"})["type"])

	// Missing type is inferred from shape.
	withProps := SchemaMap(&llm.Schema{Properties: map[string]*llm.Schema{"a": {Type: "string"}}})
	assert.Equal(t, "object", withProps["type"])
	withItems := SchemaMap(&llm.Schema{Items: &llm.Schema{Type: "number"}})
	assert.Equal(t, "array", withItems["type"])
}

func TestToSDKMessages(t *testing.T) {
	t.Parallel()

	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "looking", ToolCalls: []llm.ToolCall{
			{ID: "tu_1", Name: "lookup", Input: map[string]any{"q": "acme"}},
		}},
		{Role: llm.RoleTool, ToolUseID: "tu_1", Content: `{"found":true}`},
		{Role: llm.RoleAssistant, Content: ""}, // empty turns are dropped
	}

	out := toSDKMessages(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, "user", string(out[0].Role))
	assert.Equal(t, "assistant", string(out[1].Role))
	require.Len(t, out[1].Content, 2)
	// Tool results travel back as user-role messages.
	assert.Equal(t, "user", string(out[2].Role))
}

func TestToSDKTools(t *testing.T) {
	t.Parallel()

	out := toSDKTools([]llm.ToolDef{{
		Name:        "resolve_identity",
		Description: "Resolve identifiers to person IDs",
		InputSchema: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"identifiers": {Type: "array", Items: &llm.Schema{Type: "string"}},
			},
			Required: []string{"identifiers"},
		},
	}})

	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "resolve_identity", out[0].OfTool.Name)
	assert.Equal(t, "object", string(out[0].OfTool.InputSchema.Type))
	assert.Contains(t, out[0].OfTool.InputSchema.Properties, "identifiers")
}

func TestWithModel(t *testing.T) {
	t.Parallel()

	c := NewClient("key", WithModel("claude-opus-4-1"))
	assert.Equal(t, "claude-opus-4-1", c.Model())
	assert.Equal(t, "anthropic", c.Name())

	// Empty override keeps the default.
	d := NewClient("key", WithModel(""))
	assert.Equal(t, defaultModel, d.Model())
}
