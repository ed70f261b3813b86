package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/gorm"

	"github.com/chative-support/server/internal/agent/graph/conversations"
	"github.com/chative-support/server/internal/agent/graph/nodes"
	agenttools "github.com/chative-support/server/internal/agent/graph/tools"
	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/orders"
	"github.com/chative-support/server/internal/orders/orderstest"
	"github.com/chative-support/server/internal/sqlexec"
)

// Prompt markers identify which node rendered a prompt.
const (
	markClassify       = "Determine whether the user query is a question"
	markRouter         = "There are two sources of information"
	markPolicy         = "Use the policy excerpts below"
	markSQL            = "Generate a single read-only SQL query"
	markAnswer         = "You are a customer support agent answering a user query"
	markCriticLabel    = "A classifier labelled the user query"
	markCriticRag      = "Decide whether the retrieved context"
	markCriticAnswer   = "Decide whether the answer below addresses"
	testGeneralModel   = "general-test"
	testAgentModel     = "agent-test"
	testPromptTokens   = 100
	testCompleteTokens = 10
)

func withUsage(m *schema.Message) *schema.Message {
	if m == nil {
		return nil
	}
	m.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
		PromptTokens:     testPromptTokens,
		CompletionTokens: testCompleteTokens,
		TotalTokens:      testPromptTokens + testCompleteTokens,
	}}
	return m
}

// rulesChat answers each prompt with the rule registered for its marker.
type rulesChat struct {
	mu    sync.Mutex
	rules map[string]func(prompt string) string
	calls map[string]int
}

func newRulesChat(rules map[string]func(string) string) *rulesChat {
	return &rulesChat{rules: rules, calls: map[string]int{}}
}

func reply(s string) func(string) string { return func(string) string { return s } }

func (c *rulesChat) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	prompt := in[len(in)-1].Content
	c.mu.Lock()
	defer c.mu.Unlock()
	for mark, rule := range c.rules {
		if strings.Contains(prompt, mark) {
			c.calls[mark]++
			return withUsage(schema.AssistantMessage(rule(prompt), nil)), nil
		}
	}
	return nil, fmt.Errorf("no rule for prompt %q", prompt)
}

func (c *rulesChat) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (c *rulesChat) count(mark string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[mark]
}

// section returns the text of prompt between start and end markers.
func section(prompt, start, end string) string {
	i := strings.Index(prompt, start)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(start):]
	if j := strings.Index(rest, end); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// scriptedAgent replies with step(i, history) on its i-th call.
type scriptedAgent struct {
	mu    sync.Mutex
	step  func(i int, history []*schema.Message) *schema.Message
	calls int
	tools []*schema.ToolInfo
	seen  [][]*schema.Message
}

func (a *scriptedAgent) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	a.calls++
	a.seen = append(a.seen, append([]*schema.Message(nil), in...))
	return withUsage(a.step(i, in)), nil
}

func (a *scriptedAgent) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (a *scriptedAgent) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	a.mu.Lock()
	a.tools = tools
	a.mu.Unlock()
	return a, nil
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

type fakeRetriever struct {
	mu    sync.Mutex
	docs  []*schema.Document
	calls int
	topK  int
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{}, opts...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if o.TopK != nil {
		r.topK = *o.TopK
	}
	return r.docs, nil
}

type harness struct {
	general   *rulesChat
	agent     *scriptedAgent
	retriever *fakeRetriever
	db        *gorm.DB
	deps      *nodes.Deps
}

func newHarness(t *testing.T, critics bool, rules map[string]func(string) string) *harness {
	t.Helper()
	db := orderstest.NewDB(t)
	svc := orderstest.Service(db, orders.StatusProcessing)
	h := &harness{
		general: newRulesChat(rules),
		agent: &scriptedAgent{step: func(int, []*schema.Message) *schema.Message {
			return schema.AssistantMessage("done", nil)
		}},
		retriever: &fakeRetriever{docs: []*schema.Document{
			{ID: "policies.md#0", Content: "Returns > Window\nItems can be returned within 30 days of delivery."},
			{ID: "policies.md#1", Content: "Returns > Refunds\nRefunds are issued to the original payment method."},
		}},
		db: db,
	}
	h.deps = &nodes.Deps{
		Models: &nodes.ChatModels{
			General:     h.general,
			Agent:       h.agent,
			GeneralName: testGeneralModel,
			AgentName:   testAgentModel,
		},
		Prices: &model.PriceTable{Models: map[string]model.Pricing{
			testGeneralModel: {InputPerM: 1, OutputPerM: 2},
			testAgentModel:   {InputPerM: 3, OutputPerM: 6},
		}},
		Retriever: h.retriever,
		TopK:      3,
		Executor:  sqlexec.NewExecutor(db),
		Schema:    "customers(customer_id, name, email, phone)\norders(order_id, customer_id, status, total)",
		Tools: func(user string) []tool.InvokableTool {
			return agenttools.OrderTools(svc, user)
		},
		MaxToolIterations: 5,
		CriticsEnabled:    critics,
	}
	return h
}

func (h *harness) withTranscripts(m *conversations.TranscriptManager) *harness {
	h.deps.Transcripts = m
	return h
}

func (h *harness) run(t *testing.T, user, query string) (*model.ConversationState, error) {
	t.Helper()
	runner, err := Build(context.Background(), h.deps)
	require.NoError(t, err)
	return runner.Run(context.Background(), model.NewConversationState("conv-1", user, query))
}

func setupTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func spanNames(exporter *tracetest.InMemoryExporter) map[string]tracetest.SpanStub {
	out := map[string]tracetest.SpanStub{}
	for _, s := range exporter.GetSpans() {
		out[s.Name] = s
	}
	return out
}
