package model

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// ErrFieldAlreadySet is returned when a write-once state field is written twice.
var ErrFieldAlreadySet = errors.New("state field already set")

// ConversationState is the per-request state threaded through the graph.
// One graph execution owns it exclusively; nodes run sequentially so no locking is needed.
type ConversationState struct {
	// ConversationID keys the transcript; empty disables transcript persistence.
	ConversationID string `json:"conversation_id,omitempty"`
	Query          string `json:"query"`
	UserIdentifier string `json:"user_identifier"`

	Messages []*schema.Message `json:"messages"`

	RagType    RagType        `json:"rag_type,omitempty"`
	Context    string         `json:"context,omitempty"`
	SQLQuery   string         `json:"sql_query,omitempty"`
	IsQuestion Classification `json:"is_question,omitempty"`
	Answer     string         `json:"answer,omitempty"`

	// Documents holds the raw retrieved chunks behind Context on the policy branch.
	Documents []*schema.Document `json:"-"`

	// Critic verdicts are informational; routing never reads them.
	RagRelevant            bool    `json:"rag_relevant"`
	AnswerVerdict          Verdict `json:"answer_verdict,omitempty"`
	ClassificationVerdict  Verdict `json:"classification_verdict,omitempty"`
	ClassificationVerified bool    `json:"-"`

	SecurityBreach bool `json:"security_breach,omitempty"`

	contextSet bool
	sqlSet     bool
	answerSet  bool
}

// NewConversationState seeds a state for one request.
func NewConversationState(conversationID, userIdentifier, query string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		Query:          query,
		UserIdentifier: userIdentifier,
	}
}

// Validate checks the fields the caller must supply.
func (s *ConversationState) Validate() error {
	if s == nil {
		return errors.New("state is nil")
	}
	if s.Query == "" {
		return errors.New("query is required")
	}
	if s.UserIdentifier == "" {
		return errors.New("user identifier is required")
	}
	return nil
}

// Append adds messages to the log. The log is never truncated.
func (s *ConversationState) Append(msgs ...*schema.Message) {
	for _, m := range msgs {
		if m != nil {
			s.Messages = append(s.Messages, m)
		}
	}
}

func (s *ConversationState) SetClassification(c Classification) error {
	if s.IsQuestion != ClassificationUnknown {
		return fmt.Errorf("is_question: %w", ErrFieldAlreadySet)
	}
	s.IsQuestion = c
	return nil
}

func (s *ConversationState) SetRagType(r RagType) error {
	if s.RagType != RagTypeUnknown {
		return fmt.Errorf("rag_type: %w", ErrFieldAlreadySet)
	}
	s.RagType = r
	return nil
}

func (s *ConversationState) SetContext(ctx string) error {
	if s.contextSet {
		return fmt.Errorf("context: %w", ErrFieldAlreadySet)
	}
	s.Context = ctx
	s.contextSet = true
	return nil
}

func (s *ConversationState) SetSQLQuery(q string) error {
	if s.sqlSet {
		return fmt.Errorf("sql_query: %w", ErrFieldAlreadySet)
	}
	s.SQLQuery = q
	s.sqlSet = true
	return nil
}

func (s *ConversationState) SetAnswer(a string) error {
	if s.answerSet {
		return fmt.Errorf("answer: %w", ErrFieldAlreadySet)
	}
	s.Answer = a
	s.answerSet = true
	return nil
}

// HasAnswer reports whether a terminal node has produced the answer.
func (s *ConversationState) HasAnswer() bool {
	return s.answerSet
}
