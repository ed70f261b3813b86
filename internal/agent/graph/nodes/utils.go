package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/telemetry"
	logx "github.com/chative-support/server/pkg/logger"
)

const DefaultMaxToolIterations = 5

// RunState is the graph-local bookkeeping of one execution. It never leaves
// the graph and is not part of the conversation.
type RunState struct {
	Usage   model.RunUsage
	Path    []string
	Started time.Time
}

func NewRunState() *RunState {
	return &RunState{Started: time.Now()}
}

// NodeFunc is the signature shared by every node of the graph.
type NodeFunc = func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error)

// Instrument wraps fn in a graph.node.<name> span and records the visit.
func Instrument(name string, fn NodeFunc) NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (out *model.ConversationState, err error) {
		ctx, span := telemetry.StartSpan(ctx, "graph.node."+name,
			telemetry.AttrNode.String(name),
			telemetry.AttrConversationID.String(s.ConversationID),
		)
		defer func() { telemetry.EndSpan(span, err) }()

		_ = compose.ProcessState(ctx, func(_ context.Context, rs *RunState) error {
			rs.Path = append(rs.Path, name)
			return nil
		})
		return fn(ctx, s)
	}
}

func normalizeMaxToolIterations(n int) int {
	if n <= 0 {
		return DefaultMaxToolIterations
	}
	return n
}

// withModelRunInfo marks ctx as a chat model run so model callbacks fire for
// calls made from inside lambda nodes.
func withModelRunInfo(ctx context.Context, node string) context.Context {
	return callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      node,
		Type:      "Gemini",
		Component: components.ComponentOfChatModel,
	})
}

// generate runs one model call and accounts for its usage on the node span.
func (d *Deps) generate(ctx context.Context, node string, chat einomodel.BaseChatModel, modelName string, msgs []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	out, err := chat.Generate(withModelRunInfo(ctx, node), msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s model call: %w", node, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%s model call: empty response", node)
	}
	var u model.RunUsage
	u.Add(usageOf(out), d.cost(modelName, usageOf(out)))
	d.report(ctx, node, modelName, &u)
	return out, nil
}

func usageOf(m *schema.Message) *schema.TokenUsage {
	if m == nil || m.ResponseMeta == nil {
		return nil
	}
	return m.ResponseMeta.Usage
}

func (d *Deps) cost(modelName string, usage *schema.TokenUsage) float64 {
	p, err := d.Prices.Lookup(modelName)
	if err != nil {
		logx.Warn().Err(err).Msg("Pricing lookup failed")
		return 0
	}
	_, _, total := model.ComputeCost(usage, p)
	return total
}

// report annotates the current span with u and folds it into the run totals.
func (d *Deps) report(ctx context.Context, node, modelName string, u *model.RunUsage) {
	_ = compose.ProcessState(ctx, func(_ context.Context, rs *RunState) error {
		rs.Usage.Merge(u)
		return nil
	})
	telemetry.Annotate(ctx,
		telemetry.AttrLLMModel.String(modelName),
		telemetry.AttrInputTokens.Int(u.PromptTokens),
		telemetry.AttrOutputTokens.Int(u.CompletionTokens),
		telemetry.AttrTotalTokens.Int(u.PromptTokens+u.CompletionTokens),
		telemetry.AttrTotalCost.Float64(u.TotalCostUSD),
	)
	logx.Debug().
		Str("node", node).
		Str("model", modelName).
		Int("calls", u.Calls).
		Int("prompt_tokens", u.PromptTokens).
		Int("completion_tokens", u.CompletionTokens).
		Float64("total_cost_usd", u.TotalCostUSD).
		Msg("LLM usage")
}

// normalizeToolCallIDs fills ids the provider left empty so tool results can
// be paired with their calls.
func normalizeToolCallIDs(msg *schema.Message, iteration int) {
	for i := range msg.ToolCalls {
		if strings.TrimSpace(msg.ToolCalls[i].ID) == "" {
			msg.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", iteration, i)
		}
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
