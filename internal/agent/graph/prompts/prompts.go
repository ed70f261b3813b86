package prompts

import (
	"context"
	"embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/*.txt
var templates embed.FS

// Name identifies an embedded prompt template.
type Name string

const (
	Classify             Name = "classify"
	RagRouter            Name = "rag_router"
	PolicyContext        Name = "policy_context"
	GenerateSQL          Name = "generate_sql"
	Answer               Name = "answer"
	AgentSystem          Name = "agent_system"
	CriticClassification Name = "critic_classification"
	CriticRag            Name = "critic_rag"
	CriticAnswer         Name = "critic_answer"
	Tagging              Name = "tagging"
)

func load(name Name) (string, error) {
	raw, err := templates.ReadFile("template/" + string(name) + ".txt")
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", name, err)
	}
	return string(raw), nil
}

// Render formats the named Go template through the eino prompt component,
// which also fires prompt callbacks, and returns it as a single message with
// the given role.
func Render(ctx context.Context, name Name, role schema.RoleType, vars map[string]any) (*schema.Message, error) {
	raw, err := load(name)
	if err != nil {
		return nil, err
	}
	tpl := prompt.FromMessages(schema.GoTemplate, &schema.Message{Role: role, Content: raw})
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("prompt %s render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("prompt %s render: empty result", name)
	}
	return msgs[0], nil
}

// User renders name as a user message.
func User(ctx context.Context, name Name, vars map[string]any) (*schema.Message, error) {
	return Render(ctx, name, schema.User, vars)
}

// System renders name as a system message.
func System(ctx context.Context, name Name, vars map[string]any) (*schema.Message, error) {
	return Render(ctx, name, schema.System, vars)
}
