package prompts

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryTemplateLoads(t *testing.T) {
	for _, n := range []Name{
		Classify, RagRouter, PolicyContext, GenerateSQL, Answer, AgentSystem,
		CriticClassification, CriticRag, CriticAnswer, Tagging,
	} {
		raw, err := load(n)
		require.NoError(t, err, n)
		assert.NotEmpty(t, raw, n)
	}
	_, err := load("missing")
	assert.Error(t, err)
}

func TestRenderUser(t *testing.T) {
	msg, err := User(context.Background(), Classify, map[string]any{"Query": "Where is my order?"})
	require.NoError(t, err)
	assert.Equal(t, schema.User, msg.Role)
	assert.Contains(t, msg.Content, "query: Where is my order?")
	assert.Contains(t, msg.Content, `"Security Violation"`)
}

func TestRenderAgentSystemListsTools(t *testing.T) {
	msg, err := System(context.Background(), AgentSystem, map[string]any{
		"UserIdentifier": "alice@example.com",
		"Tools":          []string{"place_new_order", "get_order_status"},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.System, msg.Role)
	assert.Contains(t, msg.Content, "- place_new_order\n- get_order_status\n")
	assert.Contains(t, msg.Content, "alice@example.com")
}

func TestRenderTaggingTopics(t *testing.T) {
	msg, err := User(context.Background(), Tagging, map[string]any{
		"Query":  "where is my parcel",
		"Topics": []string{"Order Status", "Other"},
	})
	require.NoError(t, err)
	assert.Contains(t, msg.Content, `exactly one of "Order Status", "Other"`)
}
