package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/chative-support/server/internal/agent/graph/nodes"
	"github.com/chative-support/server/internal/agent/graph/observers"
	"github.com/chative-support/server/internal/agent/graph/parsers"
	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/telemetry"
	logx "github.com/chative-support/server/pkg/logger"
)

// ErrUnrecognizedLabel is returned when a classifier answers outside its label set.
var ErrUnrecognizedLabel = parsers.ErrUnrecognizedLabel

type runnable = compose.Runnable[*model.ConversationState, *model.ConversationState]

// Runner executes the compiled support graph. It is safe for concurrent use;
// every Run owns its state exclusively.
type Runner struct {
	runnable runnable
	metrics  *telemetry.RunMetrics
}

// Run routes one query through the graph and returns the final state. Only
// Answer is meaningful to callers. Node errors keep their cause, so
// errors.Is(err, ErrUnrecognizedLabel) holds for an out-of-set label.
func (r *Runner) Run(ctx context.Context, state *model.ConversationState) (_ *model.ConversationState, err error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	ctx, span := telemetry.StartSpan(ctx, "graph.run", telemetry.AttrConversationID.String(state.ConversationID))
	defer func() { telemetry.EndSpan(span, err) }()

	started := time.Now()
	out, err := r.runnable.Invoke(ctx, state, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", state.ConversationID).Msg("Graph run failed")
		r.metrics.RecordRun(ctx, "failed", time.Since(started), 0, 0, 0, err)
		return nil, err
	}
	if out == nil {
		return nil, errors.New("graph returned no state")
	}
	return out, nil
}

// Builder assembles the support graph from its node dependencies.
type Builder struct {
	deps  *nodes.Deps
	graph *compose.Graph[*model.ConversationState, *model.ConversationState]
}

// Build validates deps, assembles the graph and compiles it.
func Build(ctx context.Context, deps *nodes.Deps) (*Runner, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("graph deps: %w", err)
	}

	b := &Builder{
		deps: deps,
		graph: compose.NewGraph[*model.ConversationState, *model.ConversationState](
			compose.WithGenLocalState(func(ctx context.Context) *nodes.RunState {
				return nodes.NewRunState()
			}),
		),
	}
	if err := b.addNodes(); err != nil {
		return nil, err
	}
	if err := b.addEdges(); err != nil {
		return nil, err
	}
	if err := b.addBranches(); err != nil {
		return nil, err
	}

	r, err := b.compile(ctx)
	if err != nil {
		return nil, err
	}
	logx.Debug().Bool("critics", deps.CriticsEnabled).Msg("Support graph built successfully")
	return &Runner{runnable: r, metrics: deps.Metrics}, nil
}

type namedNode struct {
	name string
	fn   nodes.NodeFunc
}

func (b *Builder) addNodes() error {
	d := b.deps
	all := []namedNode{
		{nodes.NodeClassify, d.Classify()},
		{nodes.NodeRagTypeRouter, d.RagTypeRouter()},
		{nodes.NodePolicyContext, d.PolicyContext()},
		{nodes.NodeGenerateQuery, d.GenerateQuery()},
		{nodes.NodeExecuteQuery, d.ExecuteQuery()},
		{nodes.NodeGetAnswer, d.GetAnswer()},
		{nodes.NodeProcessRequest, d.ProcessRequest()},
		{nodes.NodeReject, d.Reject()},
		{nodes.NodeUnrecognized, d.Unrecognized()},
		{nodes.NodeFinalize, d.Finalize()},
	}
	if d.CriticsEnabled {
		all = append(all,
			namedNode{nodes.NodeCheckQueryClassification, d.CheckQueryClassification()},
			namedNode{nodes.NodeCheckRagRelevance, d.CheckRagRelevance()},
			namedNode{nodes.NodeCheckAnswerRelevance, d.CheckAnswerRelevance()},
		)
	}

	for _, n := range all {
		lambda := compose.InvokableLambda(nodes.Instrument(n.name, n.fn))
		if err := b.graph.AddLambdaNode(n.name, lambda, compose.WithNodeName(n.name)); err != nil {
			return fmt.Errorf("add node %s: %w", n.name, err)
		}
	}
	return nil
}

func (b *Builder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeClassify},
		{nodes.NodeGenerateQuery, nodes.NodeExecuteQuery},
		{nodes.NodeProcessRequest, nodes.NodeFinalize},
		{nodes.NodeReject, nodes.NodeFinalize},
		{nodes.NodeUnrecognized, compose.END},
		{nodes.NodeFinalize, compose.END},
	}
	if b.deps.CriticsEnabled {
		edges = append(edges,
			[2]string{nodes.NodeCheckRagRelevance, nodes.NodeGetAnswer},
			[2]string{nodes.NodeCheckAnswerRelevance, nodes.NodeFinalize},
		)
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

type branchSpec struct {
	from    string
	cond    nodes.Condition
	targets map[string]bool
}

func (b *Builder) addBranches() error {
	critics := b.deps.CriticsEnabled
	branches := []branchSpec{
		{nodes.NodeClassify, nodes.NewClassifyCondition(critics), nodes.ClassifyTargets()},
		{nodes.NodeRagTypeRouter, nodes.NewRagTypeCondition(), nodes.RagTypeTargets()},
		{nodes.NodePolicyContext, nodes.NewContextCondition(critics), nodes.ContextTargets()},
		{nodes.NodeExecuteQuery, nodes.NewContextCondition(critics), nodes.ContextTargets()},
		{nodes.NodeGetAnswer, nodes.NewAnswerCondition(critics), nodes.AnswerTargets()},
	}
	if critics {
		branches = append(branches,
			branchSpec{nodes.NodeCheckQueryClassification, nodes.NewLabelCondition(), nodes.LabelTargets()})
	}

	for _, br := range branches {
		targets := br.targets
		if !critics {
			targets = withoutCritics(targets)
		}
		branch := compose.NewGraphBranch(br.cond, targets)
		if err := b.graph.AddBranch(br.from, branch); err != nil {
			logx.Error().Err(err).Str("node", br.from).Msg("Error adding branch")
			return fmt.Errorf("error adding branch from %s: %w", br.from, err)
		}
	}
	return nil
}

// withoutCritics drops critic nodes, which are not part of the graph when
// critics are disabled.
func withoutCritics(targets map[string]bool) map[string]bool {
	out := make(map[string]bool, len(targets))
	for name := range targets {
		switch name {
		case nodes.NodeCheckQueryClassification, nodes.NodeCheckRagRelevance, nodes.NodeCheckAnswerRelevance:
			continue
		}
		out[name] = true
	}
	return out
}

func (b *Builder) compile(ctx context.Context) (runnable, error) {
	// Longest path: Classify, critic, router, retrieval pair, critic, answer, critic, finalize.
	maxSteps := 20

	r, err := b.graph.Compile(ctx,
		compose.WithGraphName("support"),
		compose.WithMaxRunSteps(maxSteps),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return r, nil
}
