package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/chative-support/server/internal/agent/graph"
	"github.com/chative-support/server/internal/agent/graph/conversations"
	"github.com/chative-support/server/internal/agent/graph/nodes"
	agenttools "github.com/chative-support/server/internal/agent/graph/tools"
	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/api"
	"github.com/chative-support/server/internal/orders"
	"github.com/chative-support/server/internal/rag"
	"github.com/chative-support/server/internal/session"
	"github.com/chative-support/server/internal/sqlexec"
	"github.com/chative-support/server/internal/tagging"
	"github.com/chative-support/server/internal/telemetry"
	"github.com/chative-support/server/pkg/database"
	logx "github.com/chative-support/server/pkg/logger"
)

// schemaTables are described to the query generator. Sessions stay out.
var schemaTables = []string{"customers", "orders", "order_items", "products"}

// app holds every long-lived collaborator of a running chatbot.
type app struct {
	cfg      *appConfig
	db       *gorm.DB
	rdb      *redis.Client
	runner   *graph.Runner
	sessions *session.Store
	tagger   api.Tagger

	closers []func(context.Context) error
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// buildApp connects the stores, builds the policy index and compiles the
// support graph. On error everything opened so far is closed.
func buildApp(ctx context.Context, cfg *appConfig) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	dur, err := cfg.durations()
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.db, err = cfg.Database.Open(); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return database.Close(a.db) })
	logx.Info().Str("driver", cfg.Database.Driver).Msg("Connected to database")

	if a.rdb, err = cfg.Redis.New(ctx); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.rdb.Close() })
	logx.Info().Msg("Connected to Redis")

	prices, err := model.LoadPriceTable(cfg.Graph.PricingFile)
	if err != nil {
		return nil, err
	}

	client, err := nodes.NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	models, err := nodes.NewChatModels(ctx, client, cfg.General, cfg.Agent)
	if err != nil {
		return nil, err
	}

	embedder := rag.NewCachedEmbedder(
		rag.NewGeminiEmbedder(client, cfg.RAG.EmbeddingModel),
		a.rdb, cfg.Redis.KeyPrefix, cfg.RAG.EmbeddingModel, dur.embedCache,
	)
	index, err := rag.BuildPolicyIndex(ctx, cfg.RAG, embedder)
	if err != nil {
		return nil, err
	}

	schemaDesc, err := sqlexec.LoadDescription(ctx, a.db, cfg.Graph.SchemaFile, schemaTables...)
	if err != nil {
		return nil, fmt.Errorf("schema description: %w", err)
	}

	metrics, err := telemetry.NewRunMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("run metrics: %w", err)
	}

	orderSvc := orders.NewService(a.db, orders.NewResolver(orders.DefaultMatchThreshold))
	transcripts := conversations.NewTranscriptManager(
		conversations.NewRedisTranscriptRepository(a.rdb, cfg.Redis.KeyPrefix, dur.conversation),
		cfg.TranscriptTurns,
	)

	a.runner, err = graph.Build(ctx, &nodes.Deps{
		Models:    models,
		Prices:    prices,
		Retriever: index,
		TopK:      cfg.RAG.TopK,
		Executor:  sqlexec.NewExecutor(a.db),
		Schema:    schemaDesc,
		Tools: func(userIdentifier string) []tool.InvokableTool {
			return agenttools.OrderTools(orderSvc, userIdentifier)
		},
		Transcripts:       transcripts,
		Metrics:           metrics,
		MaxToolIterations: cfg.Graph.MaxToolIterations,
		CriticsEnabled:    cfg.Graph.CriticsEnabled,
	})
	if err != nil {
		return nil, err
	}

	if a.sessions, err = session.NewStore(a.db, cfg.Session); err != nil {
		return nil, err
	}

	if cfg.Tagging.Enabled {
		a.tagger = tagging.New(models.General, models.GeneralName, prices, dur.tagging)
	}

	logx.Info().
		Str("general_model", models.GeneralName).
		Str("agent_model", models.AgentName).
		Bool("critics", cfg.Graph.CriticsEnabled).
		Bool("tagging", cfg.Tagging.Enabled).
		Msg("Support bot ready")
	return a, nil
}
