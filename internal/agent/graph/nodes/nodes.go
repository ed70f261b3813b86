package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chative-support/server/internal/agent/graph/conversations"
	"github.com/chative-support/server/internal/agent/graph/parsers"
	"github.com/chative-support/server/internal/agent/graph/prompts"
	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/rag"
	"github.com/chative-support/server/internal/sqlexec"
	"github.com/chative-support/server/internal/telemetry"
	logx "github.com/chative-support/server/pkg/logger"
)

const (
	NodeClassify                 = "Classify"
	NodeCheckQueryClassification = "CheckQueryClassification"
	NodeRagTypeRouter            = "RagTypeRouter"
	NodePolicyContext            = "PolicyContext"
	NodeGenerateQuery            = "GenerateQuery"
	NodeExecuteQuery             = "ExecuteQuery"
	NodeCheckRagRelevance        = "CheckRagRelevance"
	NodeGetAnswer                = "GetAnswer"
	NodeCheckAnswerRelevance     = "CheckAnswerRelevance"
	NodeProcessRequest           = "ProcessRequest"
	NodeReject                   = "Reject"
	NodeFinalize                 = "Finalize"
	NodeUnrecognized             = "Unrecognized"
)

const (
	// SecurityViolationAnswer is returned verbatim when the classifier flags a query.
	SecurityViolationAnswer = "Security Violation"
	// GiveUpAnswer is returned when the order agent exhausts its iterations.
	GiveUpAnswer = "I am unable to process the request at this time"
)

// QueryExecutor runs a read-only query and renders its rows as text.
type QueryExecutor interface {
	Execute(ctx context.Context, query string) (string, error)
}

// ToolFactory builds the order tools bound to one authenticated customer.
type ToolFactory func(userIdentifier string) []tool.InvokableTool

// Deps are the collaborators the nodes are built from. They are constructed
// once at startup and shared read-only by every graph execution.
type Deps struct {
	Models      *ChatModels
	Prices      *model.PriceTable
	Retriever   retriever.Retriever
	TopK        int
	Executor    QueryExecutor
	Schema      string
	Tools       ToolFactory
	Transcripts *conversations.TranscriptManager
	Metrics     *telemetry.RunMetrics

	MaxToolIterations int
	CriticsEnabled    bool
}

// Validate reports missing collaborators.
func (d *Deps) Validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("node deps are nil")
	case d.Retriever == nil:
		return fmt.Errorf("retriever is nil")
	case d.Executor == nil:
		return fmt.Errorf("query executor is nil")
	case d.Tools == nil:
		return fmt.Errorf("tool factory is nil")
	case strings.TrimSpace(d.Schema) == "":
		return fmt.Errorf("schema description is empty")
	}
	return d.Models.Validate(d.Prices)
}

func (d *Deps) user(ctx context.Context, name prompts.Name, vars map[string]any) ([]*schema.Message, error) {
	msg, err := prompts.User(ctx, name, vars)
	if err != nil {
		return nil, err
	}
	return []*schema.Message{msg}, nil
}

// Classify labels the query. An unparsable label leaves is_question unset so
// routing sends the run to Unrecognized.
func (d *Deps) Classify() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		in, err := d.user(ctx, prompts.Classify, map[string]any{"Query": s.Query})
		if err != nil {
			return nil, err
		}
		out, err := d.generate(ctx, NodeClassify, d.Models.General, d.Models.GeneralName, in)
		if err != nil {
			return nil, err
		}
		s.Append(out)

		label, err := parsers.Classification(out.Content)
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", s.ConversationID).Msg("Unrecognized classification")
			return s, nil
		}
		if err := s.SetClassification(label); err != nil {
			return nil, err
		}
		telemetry.Annotate(ctx, attribute.String("classification", string(label)))
		logx.Debug().Str("conversation_id", s.ConversationID).Str("is_question", string(label)).Msg("Query classified")
		return s, nil
	}
}

// RagTypeRouter picks the retrieval source for an informational question.
func (d *Deps) RagTypeRouter() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		in, err := d.user(ctx, prompts.RagRouter, map[string]any{"Query": s.Query})
		if err != nil {
			return nil, err
		}
		out, err := d.generate(ctx, NodeRagTypeRouter, d.Models.General, d.Models.GeneralName, in)
		if err != nil {
			return nil, err
		}
		s.Append(out)

		rt, err := parsers.RagType(out.Content)
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", s.ConversationID).Msg("Unrecognized rag type")
			return s, nil
		}
		if err := s.SetRagType(rt); err != nil {
			return nil, err
		}
		telemetry.Annotate(ctx, attribute.String("rag_type", string(rt)))
		return s, nil
	}
}

// PolicyContext retrieves policy chunks and distils them into context.
func (d *Deps) PolicyContext() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		docs, err := d.Retriever.Retrieve(ctx, s.Query, retriever.WithTopK(d.TopK))
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", s.ConversationID).Msg("Policy retrieval failed")
			docs = nil
		}
		s.Documents = docs
		excerpts := rag.JoinDocuments(docs)
		telemetry.Annotate(ctx,
			telemetry.AttrRAGContextSize.Int(wordCount(excerpts)),
			attribute.Int("rag.documents", len(docs)),
		)

		in, err := d.user(ctx, prompts.PolicyContext, map[string]any{"Context": excerpts, "Query": s.Query})
		if err != nil {
			return nil, err
		}
		out, err := d.generate(ctx, NodePolicyContext, d.Models.General, d.Models.GeneralName, in)
		if err != nil {
			return nil, err
		}
		s.Append(out)
		if err := s.SetContext(strings.TrimSpace(out.Content)); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// GenerateQuery asks for a read-only query and passes it through the guard.
// A rejected query is replaced by one that returns no rows.
func (d *Deps) GenerateQuery() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		in, err := d.user(ctx, prompts.GenerateSQL, map[string]any{
			"Query":          s.Query,
			"UserIdentifier": s.UserIdentifier,
			"Schema":         d.Schema,
			"EmptyQuery":     sqlexec.EmptyResultQuery,
		})
		if err != nil {
			return nil, err
		}
		out, err := d.generate(ctx, NodeGenerateQuery, d.Models.General, d.Models.GeneralName, in)
		if err != nil {
			return nil, err
		}
		s.Append(out)

		query, err := sqlexec.Sanitize(parsers.CleanSQL(out.Content), s.UserIdentifier)
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", s.ConversationID).Msg("Generated query rejected")
			telemetry.Annotate(ctx, attribute.Bool("sql.rejected", true))
		}
		if err := s.SetSQLQuery(query); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ExecuteQuery runs the guarded query. Failures degrade to an empty context.
func (d *Deps) ExecuteQuery() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		rows, err := d.Executor.Execute(ctx, s.SQLQuery)
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", s.ConversationID).Str("sql", s.SQLQuery).Msg("Query execution failed")
			rows = ""
		}
		telemetry.Annotate(ctx, telemetry.AttrRAGContextSize.Int(wordCount(rows)))
		s.Append(schema.SystemMessage(rows))
		if err := s.SetContext(rows); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// GetAnswer synthesises the final answer from context.
func (d *Deps) GetAnswer() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		in, err := d.user(ctx, prompts.Answer, map[string]any{"Context": s.Context, "Query": s.Query})
		if err != nil {
			return nil, err
		}
		out, err := d.generate(ctx, NodeGetAnswer, d.Models.General, d.Models.GeneralName, in)
		if err != nil {
			return nil, err
		}
		s.Append(out)
		if err := s.SetAnswer(strings.TrimSpace(out.Content)); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Reject ends a flagged run with the fixed answer and raises the breach flag.
func (d *Deps) Reject() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		if err := s.SetAnswer(SecurityViolationAnswer); err != nil {
			return nil, err
		}
		s.SecurityBreach = true
		telemetry.Annotate(ctx, telemetry.AttrSecurityBreach.Bool(true))
		logx.Warn().
			Str("conversation_id", s.ConversationID).
			Str("user_identifier", s.UserIdentifier).
			Msg("Security violation detected")
		return s, nil
	}
}

// Unrecognized fails the run when a classifier label is outside its set.
func (d *Deps) Unrecognized() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		logx.Error().
			Str("conversation_id", s.ConversationID).
			Str("is_question", string(s.IsQuestion)).
			Str("rag_type", string(s.RagType)).
			Msg("Unrecognized routing label")
		return nil, fmt.Errorf("%w: is_question=%q rag_type=%q", parsers.ErrUnrecognizedLabel, s.IsQuestion, s.RagType)
	}
}

// Finalize reports the run's spend and stores the turn in the transcript.
// Neither step can fail the run.
func (d *Deps) Finalize() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		if !s.HasAnswer() {
			return nil, fmt.Errorf("run reached %s without an answer", NodeFinalize)
		}

		var (
			usage   model.RunUsage
			path    []string
			started = time.Now()
		)
		_ = compose.ProcessState(ctx, func(_ context.Context, rs *RunState) error {
			usage = rs.Usage
			path = append(path, rs.Path...)
			started = rs.Started
			return nil
		})

		route := RouteName(s)
		telemetry.Annotate(ctx,
			attribute.String("graph.route", route),
			attribute.StringSlice("graph.path", path),
			telemetry.AttrTotalCost.Float64(usage.TotalCostUSD),
		)
		logx.Info().
			Str("conversation_id", s.ConversationID).
			Str("route", route).
			Int("llm_calls", usage.Calls).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Float64("total_cost_usd", usage.TotalCostUSD).
			Msg("Run finished")

		d.Metrics.RecordRun(ctx, route, time.Since(started), usage.TotalCostUSD, usage.PromptTokens, usage.CompletionTokens, nil)

		if err := d.Transcripts.SaveTurn(ctx, s.ConversationID, s.Query, s.Answer); err != nil {
			logx.Error().Err(err).Str("conversation_id", s.ConversationID).Msg("Error saving transcript turn")
		}
		return s, nil
	}
}
