package loosejson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_StrictJSON(t *testing.T) {
	t.Parallel()

	v := Decode(`{"name":"John","age":30}`)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "John", m["name"])
	assert.Equal(t, float64(30), m["age"])
}

func TestDecode_RepairChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{
			name:  "single quotes",
			input: `{'name': 'John'}`,
			want:  map[string]any{"name": "John"},
		},
		{
			name:  "unquoted keys",
			input: `{name: "John", age: 30}`,
			want:  map[string]any{"name": "John", "age": float64(30)},
		},
		{
			name:  "trailing comma",
			input: `{"name": "John",}`,
			want:  map[string]any{"name": "John"},
		},
		{
			name:  "combined defects",
			input: `{name: 'John', age: 30,}`,
			want:  map[string]any{"name": "John", "age": float64(30)},
		},
		{
			name:  "trailing comma in array",
			input: `["a", "b",]`,
			want:  nil, // arrays handled below
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Decode(tt.input)
			require.NotNil(t, v)
			if tt.want != nil {
				assert.Equal(t, tt.want, v)
			}
		})
	}
}

func TestDecode_ControlCharacters(t *testing.T) {
	t.Parallel()

	v := Decode("{\"name\": \"Jo\x01hn\"}")
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "John", m["name"])
}

func TestDecode_Unparseable(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Decode("not json at all"))
	assert.Nil(t, Decode(""))
	assert.Nil(t, Decode("   "))
}

func TestDecode_Deterministic(t *testing.T) {
	t.Parallel()

	input := `{name: 'John', tags: ['a', 'b'],}`
	first := Decode(input)
	second := Decode(input)
	assert.Equal(t, first, second)
}
