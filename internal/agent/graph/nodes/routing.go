package nodes

import (
	"context"

	"github.com/chative-support/server/internal/agent/model"
	logx "github.com/chative-support/server/pkg/logger"
)

// Condition picks the next node from the state.
type Condition = func(ctx context.Context, s *model.ConversationState) (string, error)

// routeByLabel is the classification routing table. Labels outside the
// closed set go to Unrecognized.
func routeByLabel(c model.Classification) string {
	switch c {
	case model.ClassificationYes:
		return NodeRagTypeRouter
	case model.ClassificationNo:
		return NodeGetAnswer
	case model.ClassificationRequest:
		return NodeProcessRequest
	case model.ClassificationSecurityViolation:
		return NodeReject
	}
	return NodeUnrecognized
}

// ClassifyTargets lists every node NewClassifyCondition may return.
func ClassifyTargets() map[string]bool {
	return map[string]bool{
		NodeReject:                   true,
		NodeCheckQueryClassification: true,
		NodeGetAnswer:                true,
		NodeRagTypeRouter:            true,
		NodeProcessRequest:           true,
		NodeUnrecognized:             true,
	}
}

// NewClassifyCondition routes after Classify. Security violations are
// rejected before any critic runs.
func NewClassifyCondition(criticsEnabled bool) Condition {
	return func(ctx context.Context, s *model.ConversationState) (string, error) {
		next := routeByLabel(s.IsQuestion)
		if criticsEnabled && next != NodeReject && next != NodeUnrecognized && !s.ClassificationVerified {
			next = NodeCheckQueryClassification
		}
		logx.Debug().Str("conversation_id", s.ConversationID).Str("is_question", string(s.IsQuestion)).Str("next", next).Msg("Routing classification")
		return next, nil
	}
}

// LabelTargets lists every node NewLabelCondition may return.
func LabelTargets() map[string]bool {
	return map[string]bool{
		NodeReject:         true,
		NodeGetAnswer:      true,
		NodeRagTypeRouter:  true,
		NodeProcessRequest: true,
		NodeUnrecognized:   true,
	}
}

// NewLabelCondition routes on the classification alone. The classification
// critic uses it so its verdict never changes the route.
func NewLabelCondition() Condition {
	return func(ctx context.Context, s *model.ConversationState) (string, error) {
		return routeByLabel(s.IsQuestion), nil
	}
}

func RagTypeTargets() map[string]bool {
	return map[string]bool{
		NodePolicyContext: true,
		NodeGenerateQuery: true,
		NodeUnrecognized:  true,
	}
}

func NewRagTypeCondition() Condition {
	return func(ctx context.Context, s *model.ConversationState) (string, error) {
		switch s.RagType {
		case model.RagTypePolicy:
			return NodePolicyContext, nil
		case model.RagTypeDatabase:
			return NodeGenerateQuery, nil
		}
		return NodeUnrecognized, nil
	}
}

func ContextTargets() map[string]bool {
	return map[string]bool{NodeCheckRagRelevance: true, NodeGetAnswer: true}
}

// NewContextCondition sends retrieved context through the relevance critic
// when critics are enabled.
func NewContextCondition(criticsEnabled bool) Condition {
	return func(ctx context.Context, s *model.ConversationState) (string, error) {
		if criticsEnabled {
			return NodeCheckRagRelevance, nil
		}
		return NodeGetAnswer, nil
	}
}

func AnswerTargets() map[string]bool {
	return map[string]bool{NodeCheckAnswerRelevance: true, NodeFinalize: true}
}

// NewAnswerCondition grades answers to informational questions only.
func NewAnswerCondition(criticsEnabled bool) Condition {
	return func(ctx context.Context, s *model.ConversationState) (string, error) {
		if criticsEnabled && s.IsQuestion == model.ClassificationYes {
			return NodeCheckAnswerRelevance, nil
		}
		return NodeFinalize, nil
	}
}

// RouteName summarises the branch a run took, for metrics.
func RouteName(s *model.ConversationState) string {
	switch {
	case s.SecurityBreach:
		return "reject"
	case s.IsQuestion == model.ClassificationRequest:
		return "request"
	case s.IsQuestion == model.ClassificationNo:
		return "feedback"
	case s.RagType == model.RagTypePolicy:
		return "policy"
	case s.RagType == model.RagTypeDatabase:
		return "database"
	}
	return "unknown"
}
