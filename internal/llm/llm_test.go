// internal/llm/llm_test.go
package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

type relevant struct {
	RelevantAssets []struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	} `json:"relevantAssets"`
}

func TestExtractJSONObjectPlain(t *testing.T) {
	var out relevant
	require.NoError(t, ExtractJSONObject(`{"relevantAssets":[{"name":"Lin","reason":"appears"}]}`, &out))
	require.Len(t, out.RelevantAssets, 1)
	assert.Equal(t, "Lin", out.RelevantAssets[0].Name)
}

func TestExtractJSONObjectFromProse(t *testing.T) {
	text := "Sure! Here is the result:\n```json\n{\"relevantAssets\": [{\"name\": \"Old Temple\", \"reason\": \"shot 2 {night}\"}]}\n```\nHope it helps."
	var out relevant
	require.NoError(t, ExtractJSONObject(text, &out))
	require.Len(t, out.RelevantAssets, 1)
	assert.Equal(t, "Old Temple", out.RelevantAssets[0].Name)
	assert.Equal(t, "shot 2 {night}", out.RelevantAssets[0].Reason)
}

func TestExtractJSONObjectFullWidth(t *testing.T) {
	text := `结果：｛“relevantAssets”：［｛“name”：“林川”，“reason”：“出现”｝］｝`
	var out relevant
	require.NoError(t, ExtractJSONObject(text, &out))
	require.Len(t, out.RelevantAssets, 1)
	assert.Equal(t, "林川", out.RelevantAssets[0].Name)
}

func TestExtractJSONObjectSkipsInvalidCandidates(t *testing.T) {
	text := `first {not json} then {"relevantAssets":[]}`
	var out relevant
	require.NoError(t, ExtractJSONObject(text, &out))
	assert.Empty(t, out.RelevantAssets)
}

func TestExtractJSONObjectFailure(t *testing.T) {
	var out relevant
	err := ExtractJSONObject("no braces here", &out)
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamError(err))
	assert.Error(t, ExtractJSONObject("", &out))
}

func TestGetProviderUnknown(t *testing.T) {
	_, err := GetProvider("does-not-exist", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "unsupported vendor")
}

func TestTextStream(t *testing.T) {
	events := make(chan ChatEvent, 4)
	events <- ChatEvent{Type: EventTextDelta, Text: "he"}
	events <- ChatEvent{Type: EventToolCall, ToolCall: &ToolCall{Name: "x"}}
	events <- ChatEvent{Type: EventTextDelta, Text: "llo"}
	events <- ChatEvent{Type: EventFinish, FinishReason: "stop"}
	close(events)

	var text string
	var done bool
	for r := range TextStream(context.Background(), events, "m") {
		text += r.Text
		done = done || r.Done
	}
	assert.Equal(t, "hello", text)
	assert.True(t, done)
}
