package conversations

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/chative-support/server/internal/agent/model"
)

// TranscriptManager records the user-visible side of each request. Internal
// graph messages (prompts, tool calls, critic grades) never reach the transcript.
type TranscriptManager struct {
	repo     model.TranscriptRepository
	maxTurns int
}

func NewTranscriptManager(repo model.TranscriptRepository, maxTurns int) *TranscriptManager {
	return &TranscriptManager{repo: repo, maxTurns: maxTurns}
}

// SaveTurn stores the query and its final answer as one user/assistant pair.
func (m *TranscriptManager) SaveTurn(ctx context.Context, conversationID, query, answer string) error {
	if m == nil || m.repo == nil || conversationID == "" {
		return nil
	}
	if strings.TrimSpace(query) == "" {
		return errors.New("transcript turn has no query")
	}
	return m.repo.AppendTurn(ctx, conversationID,
		schema.UserMessage(query),
		schema.AssistantMessage(answer, nil),
	)
}

// Recent returns the last maxTurns messages of a transcript, oldest first.
func (m *TranscriptManager) Recent(ctx context.Context, conversationID string) ([]*schema.Message, error) {
	history, err := m.repo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return trimTail(history.Messages, m.maxTurns), nil
}

// Clear drops a transcript, typically when its session ends.
func (m *TranscriptManager) Clear(ctx context.Context, conversationID string) error {
	if m == nil || m.repo == nil || conversationID == "" {
		return nil
	}
	return m.repo.ClearHistory(ctx, conversationID)
}

// Render formats messages as "role: content" lines.
func Render(messages []*schema.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			b.WriteString("user: " + msg.Content + "\n")
		case schema.Assistant:
			b.WriteString("assistant: " + msg.Content + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 || len(messages) <= maxTurns {
		return append([]*schema.Message(nil), messages...)
	}
	return append([]*schema.Message(nil), messages[len(messages)-maxTurns:]...)
}
