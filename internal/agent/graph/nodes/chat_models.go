package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/chative-support/server/internal/agent/model"
	logx "github.com/chative-support/server/pkg/logger"
)

// ChatModels holds the general model used by single-shot nodes and the
// tool-calling model of the order agent.
type ChatModels struct {
	General     einomodel.BaseChatModel
	Agent       einomodel.ToolCallingChatModel
	GeneralName string
	AgentName   string
}

// NewGenAIClient creates the Gemini API client shared by chat models and embeddings.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates the general and agent chat models on client.
func NewChatModels(ctx context.Context, client *genai.Client, general model.ChatModelConfig, agent model.AgentModelConfig) (*ChatModels, error) {
	generalModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       general.Model,
		Temperature: &general.Temperature,
		MaxTokens:   &general.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(1024)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating general model")
		return nil, fmt.Errorf("error creating general model: %w", err)
	}

	agentModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       agent.Model,
		Temperature: &agent.Temperature,
		MaxTokens:   &agent.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating agent model")
		return nil, fmt.Errorf("error creating agent model: %w", err)
	}

	return &ChatModels{
		General:     generalModel,
		Agent:       agentModel,
		GeneralName: general.Model,
		AgentName:   agent.Model,
	}, nil
}

// Validate checks that both models are set and priced.
func (cm *ChatModels) Validate(prices *model.PriceTable) error {
	if cm == nil || cm.General == nil || cm.Agent == nil {
		return fmt.Errorf("chat models are not properly initialized")
	}
	return prices.Require(cm.GeneralName, cm.AgentName)
}
