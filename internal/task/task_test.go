package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_String(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{P0, "P0"},
		{P1, "P1"},
		{P2, "P2"},
		{Priority(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.priority.String())
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input    string
		expected Priority
	}{
		{"P0", P0},
		{"P1", P1},
		{"P2", P2},
		{"invalid", P1},
		{"", P1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePriority(tt.input))
		})
	}
}

func TestParseID_RejectsEmptyAndOversized(t *testing.T) {
	_, err := ParseID("")
	require.Error(t, err)

	huge := make([]byte, maxIDLength+1)
	_, err = ParseID(string(huge))
	require.Error(t, err)

	id, err := ParseID("abc-123")
	require.NoError(t, err)
	assert.Equal(t, ID("abc-123"), id)
}

func TestNew(t *testing.T) {
	tk, err := New(CreateRequest{Prompt: "echo hi", Priority: P0}, 1<<20)
	require.NoError(t, err)

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "echo hi", tk.Prompt)
	assert.Equal(t, P0, tk.Priority)
	assert.Equal(t, Queued, tk.Status)
	assert.False(t, tk.CreatedAt.IsZero())
	assert.Equal(t, int64(1<<20), tk.MaxOutputBuffer)
}

func TestNew_RejectsEmptyPrompt(t *testing.T) {
	_, err := New(CreateRequest{Prompt: "   "}, 1<<20)
	require.Error(t, err)
}

func TestNew_DefaultsAndCaps(t *testing.T) {
	tk, err := New(CreateRequest{Prompt: "x", Timeout: 2 * maxTimeout}, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, maxTimeout, tk.Timeout)

	tk2, err := New(CreateRequest{Prompt: "x"}, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, tk2.Timeout)
}

func TestNew_DependsOn(t *testing.T) {
	dep := NewID()
	tk, err := New(CreateRequest{Prompt: "x", DependsOn: []ID{dep}}, 1<<20)
	require.NoError(t, err)
	assert.True(t, tk.HasDependencies())
	_, ok := tk.DependsOn[dep]
	assert.True(t, ok)
}

func TestTask_Clone_Independent(t *testing.T) {
	tk, err := New(CreateRequest{Prompt: "x", DependsOn: []ID{NewID()}}, 1<<20)
	require.NoError(t, err)

	cp := tk.Clone()
	cp.Prompt = "mutated"
	for k := range cp.DependsOn {
		delete(cp.DependsOn, k)
		break
	}

	assert.Equal(t, "x", tk.Prompt)
	assert.Len(t, tk.DependsOn, 1)
}

func TestTask_JSONRoundTrip(t *testing.T) {
	tk, err := New(CreateRequest{Prompt: "echo hi", Priority: P2}, 1<<20)
	require.NoError(t, err)

	data, err := json.Marshal(tk)
	require.NoError(t, err)

	var restored Task
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, tk.ID, restored.ID)
	assert.Equal(t, tk.Prompt, restored.Prompt)
	assert.Equal(t, tk.Priority, restored.Priority)
	assert.Equal(t, tk.Status, restored.Status)
}
