package model

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"
)

// ErrUnknownModel is returned when a model has no pricing entry.
var ErrUnknownModel = errors.New("model missing from pricing table")

//go:embed pricing.yaml
var defaultPricingYAML []byte

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64 `yaml:"input"`
	OutputPerM float64 `yaml:"output"`
}

// PriceTable maps model names to their pricing.
type PriceTable struct {
	Models map[string]Pricing `yaml:"models"`
}

// DefaultPriceTable returns the embedded pricing table.
func DefaultPriceTable() (*PriceTable, error) {
	return ParsePriceTable(defaultPricingYAML)
}

// LoadPriceTable reads a YAML pricing file; an empty path yields the embedded default.
func LoadPriceTable(path string) (*PriceTable, error) {
	if path == "" {
		return DefaultPriceTable()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return ParsePriceTable(b)
}

func ParsePriceTable(b []byte) (*PriceTable, error) {
	var t PriceTable
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse pricing table: %w", err)
	}
	if len(t.Models) == 0 {
		return nil, errors.New("pricing table has no models")
	}
	return &t, nil
}

// Lookup returns the pricing for a model.
func (t *PriceTable) Lookup(model string) (Pricing, error) {
	if t != nil {
		if p, ok := t.Models[model]; ok {
			return p, nil
		}
	}
	return Pricing{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Require fails unless every named model is priced.
func (t *PriceTable) Require(models ...string) error {
	var missing []string
	for _, m := range models {
		if _, err := t.Lookup(m); err != nil {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v", ErrUnknownModel, missing)
	}
	return nil
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// RunUsage accumulates token usage and spend across the LLM calls of one request.
// It lives in the graph's local state, never in ConversationState.
type RunUsage struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	TotalCostUSD     float64
}

// Add folds one call into the running totals.
func (u *RunUsage) Add(usage *schema.TokenUsage, cost float64) {
	u.Calls++
	if usage != nil {
		u.PromptTokens += usage.PromptTokens
		u.CompletionTokens += usage.CompletionTokens
	}
	u.TotalCostUSD += cost
}

// Merge folds another accumulator into u.
func (u *RunUsage) Merge(o *RunUsage) {
	if o == nil {
		return
	}
	u.Calls += o.Calls
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalCostUSD += o.TotalCostUSD
}
