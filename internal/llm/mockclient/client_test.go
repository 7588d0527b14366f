package mockclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gptterm/internal/llm"
)

func TestEchoesLastMessage(t *testing.T) {
	c := New()
	resp, err := c.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: " how do I list disks? "},
	}})
	require.NoError(t, err)
	text, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, "MOCK RESPONSE: how do I list disks?", text)

	resp, err = c.Chat(context.Background(), llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "MOCK RESPONSE", resp.Choices[0].Message.Content)
	assert.Len(t, c.Requests(), 2)
}

func TestScriptedRepliesComeFirst(t *testing.T) {
	c := New().Script("first", "second")
	for _, want := range []string{"first", "second", "MOCK RESPONSE: x"} {
		resp, err := c.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Choices[0].Message.Content)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Chat(ctx, llm.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
