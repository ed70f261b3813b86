package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL string `envconfig:"CONVERSATION_TTL" default:"12h"`
}

// ParsedTTL returns the transcript TTL; zero disables expiry.
func (c ConversationConfig) ParsedTTL() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	return time.ParseDuration(c.TTL)
}

// ChatModelConfig configures the general model used by the classifier,
// router, SQL generator, answer and critic nodes.
type ChatModelConfig struct {
	Model       string  `envconfig:"GENERAL_MODEL" default:"gemini-flash-latest"`
	MaxTokens   int     `envconfig:"GENERAL_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"GENERAL_TEMPERATURE" default:"0"`
}

// AgentModelConfig configures the tool-calling model of the order agent.
type AgentModelConfig struct {
	Model       string  `envconfig:"AGENT_MODEL" default:"gemini-flash-latest"`
	MaxTokens   int     `envconfig:"AGENT_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"AGENT_TEMPERATURE" default:"0"`
}

type GraphConfig struct {
	MaxToolIterations int  `envconfig:"GRAPH_MAX_TOOL_ITERATIONS" default:"5"`
	CriticsEnabled    bool `envconfig:"GRAPH_CRITICS_ENABLED" default:"true"`
	// SchemaFile overrides the schema description generated from the live database.
	SchemaFile  string `envconfig:"SQL_SCHEMA_FILE"`
	PricingFile string `envconfig:"PRICING_FILE"`
}

type RAGConfig struct {
	PolicyPath     string `envconfig:"RAG_POLICY_PATH" default:"db/policies.md"`
	ChunkSize      int    `envconfig:"RAG_CHUNK_SIZE" default:"500"`
	ChunkOverlap   int    `envconfig:"RAG_CHUNK_OVERLAP" default:"50"`
	TopK           int    `envconfig:"RAG_TOP_K" default:"3"`
	EmbeddingModel string `envconfig:"RAG_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	// CacheTTL bounds how long embeddings stay in redis; "0" keeps them forever.
	CacheTTL string `envconfig:"RAG_CACHE_TTL" default:"168h"`
}

// TaggingConfig controls the background topic/emotion tagger.
type TaggingConfig struct {
	Enabled bool   `envconfig:"TAGGING_ENABLED" default:"true"`
	Timeout string `envconfig:"TAGGING_TIMEOUT" default:"30s"`
}
