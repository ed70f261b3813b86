package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chative-support/server/internal/agent/graph/prompts"
	agenttools "github.com/chative-support/server/internal/agent/graph/tools"
	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/telemetry"
	logx "github.com/chative-support/server/pkg/logger"
)

// LoopOutcome is how the order agent loop ended.
type LoopOutcome int

const (
	// Answered means the model replied without tool calls.
	Answered LoopOutcome = iota
	// GaveUp means every iteration asked for tools.
	GaveUp
)

func (o LoopOutcome) String() string {
	switch o {
	case Answered:
		return "answered"
	case GaveUp:
		return "gave_up"
	}
	return fmt.Sprintf("LoopOutcome(%d)", int(o))
}

// LoopResult is the terminal state of the agent loop.
type LoopResult struct {
	Outcome    LoopOutcome
	Answer     string
	Iterations int
	Messages   []*schema.Message
	Usage      model.RunUsage
}

// RunAgentLoop drives the tool-calling model for one request. Each iteration
// is one model call; tool calls are executed and fed back until the model
// answers or the iteration budget is spent.
func (d *Deps) RunAgentLoop(ctx context.Context, s *model.ConversationState) (*LoopResult, error) {
	tools := d.Tools(s.UserIdentifier)
	_, infos, err := agenttools.Index(ctx, tools)
	if err != nil {
		return nil, err
	}
	chat, err := d.Models.Agent.WithTools(infos)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return nil, fmt.Errorf("failed to bind tools: %w", err)
	}
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               agenttools.SoftErrors(tools),
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			logx.Warn().Str("tool_name", name).Str("arguments", input).Msg("Unknown tool call")
			return agenttools.UnknownTool(name), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tools node: %w", err)
	}

	system, err := prompts.System(ctx, prompts.AgentSystem, map[string]any{
		"Tools":          agenttools.Describe(infos),
		"UserIdentifier": s.UserIdentifier,
	})
	if err != nil {
		return nil, err
	}

	res := &LoopResult{
		Outcome:  GaveUp,
		Messages: []*schema.Message{system, schema.UserMessage(s.Query)},
	}
	maxIterations := normalizeMaxToolIterations(d.MaxToolIterations)
	for i := 0; i < maxIterations; i++ {
		res.Iterations = i + 1
		out, err := chat.Generate(withModelRunInfo(ctx, NodeProcessRequest), res.Messages)
		if err != nil {
			return res, fmt.Errorf("%s model call: %w", NodeProcessRequest, err)
		}
		if out == nil {
			return res, fmt.Errorf("%s model call: empty response", NodeProcessRequest)
		}
		res.Usage.Add(usageOf(out), d.cost(d.Models.AgentName, usageOf(out)))
		normalizeToolCallIDs(out, i)
		res.Messages = append(res.Messages, out)

		if len(out.ToolCalls) == 0 {
			res.Outcome = Answered
			res.Answer = strings.TrimSpace(out.Content)
			break
		}

		logx.Debug().Int("iteration", res.Iterations).Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
		results, err := toolsNode.Invoke(ctx, out)
		if err != nil {
			return res, fmt.Errorf("tool execution: %w", err)
		}
		res.Messages = append(res.Messages, results...)
	}

	if res.Outcome == GaveUp {
		logx.Warn().
			Str("conversation_id", s.ConversationID).
			Int("iterations", res.Iterations).
			Msg("Tool iteration limit reached")
		res.Answer = GiveUpAnswer
		res.Messages = append(res.Messages, schema.AssistantMessage(GiveUpAnswer, nil))
	}
	return res, nil
}

// ProcessRequest handles order placement and changes through the agent loop.
// Usage is reported once, when the loop exits.
func (d *Deps) ProcessRequest() NodeFunc {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		res, err := d.RunAgentLoop(ctx, s)
		if res != nil {
			d.report(ctx, NodeProcessRequest, d.Models.AgentName, &res.Usage)
			telemetry.Annotate(ctx,
				attribute.String("agent.outcome", res.Outcome.String()),
				attribute.Int("agent.iterations", res.Iterations),
			)
		}
		if err != nil {
			return nil, err
		}
		s.Append(res.Messages...)
		if err := s.SetAnswer(res.Answer); err != nil {
			return nil, err
		}
		return s, nil
	}
}
