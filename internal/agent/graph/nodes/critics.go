package nodes

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chative-support/server/internal/agent/graph/parsers"
	"github.com/chative-support/server/internal/agent/graph/prompts"
	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/telemetry"
	logx "github.com/chative-support/server/pkg/logger"
)

// critic grades an upstream output. Critics are informational: failures are
// logged and yield VerdictUnknown.
func (d *Deps) critic(ctx context.Context, node string, s *model.ConversationState, name prompts.Name, vars map[string]any) model.Verdict {
	in, err := d.user(ctx, name, vars)
	if err != nil {
		logx.Warn().Err(err).Str("node", node).Msg("Critic prompt failed")
		return model.VerdictUnknown
	}
	out, err := d.generate(ctx, node, d.Models.General, d.Models.GeneralName, in)
	if err != nil {
		logx.Warn().Err(err).Str("node", node).Str("conversation_id", s.ConversationID).Msg("Critic call failed")
		return model.VerdictUnknown
	}
	s.Append(out)

	v := parsers.Verdict(out.Content)
	telemetry.Annotate(ctx, attribute.String("critic.verdict", string(v)))
	logx.Debug().Str("node", node).Str("conversation_id", s.ConversationID).Str("verdict", string(v)).Msg("Critic verdict")
	return v
}

func (d *Deps) CheckQueryClassification() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		s.ClassificationVerdict = d.critic(ctx, NodeCheckQueryClassification, s, prompts.CriticClassification,
			map[string]any{"Query": s.Query, "Label": string(s.IsQuestion)})
		s.ClassificationVerified = true
		return s, nil
	}
}

func (d *Deps) CheckRagRelevance() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		v := d.critic(ctx, NodeCheckRagRelevance, s, prompts.CriticRag,
			map[string]any{"Query": s.Query, "Context": s.Context})
		s.RagRelevant = v == model.VerdictRelevant
		return s, nil
	}
}

func (d *Deps) CheckAnswerRelevance() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		s.AnswerVerdict = d.critic(ctx, NodeCheckAnswerRelevance, s, prompts.CriticAnswer,
			map[string]any{"Query": s.Query, "Answer": s.Answer})
		return s, nil
	}
}
