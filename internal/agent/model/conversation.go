package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// TranscriptRepository persists the user-visible turns of a conversation
// (query and final answer), keyed by the session that produced them.
type TranscriptRepository interface {
	// AppendTurn stores the messages of one completed request in order.
	AppendTurn(ctx context.Context, conversationID string, messages ...*schema.Message) error

	// LoadHistory retrieves every stored turn for a conversation.
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// ClearHistory removes the transcript, typically on logout.
	ClearHistory(ctx context.Context, conversationID string) error

	// GetMessageCount returns the number of stored messages.
	GetMessageCount(ctx context.Context, conversationID string) (int, error)
}

// ConversationHistory represents a loaded transcript.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}
