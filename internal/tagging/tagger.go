package tagging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chative-support/server/internal/agent/graph/parsers"
	"github.com/chative-support/server/internal/agent/graph/prompts"
	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/telemetry"
	logx "github.com/chative-support/server/pkg/logger"
)

// Topics is the closed set of conversation topics.
var Topics = []string{
	"Order Status",
	"Return & Refund",
	"Product Info",
	"Billing & Account",
	"Shipping Policy",
	"Technical Support",
	"Other",
}

const (
	EmotionPositive = "positive"
	EmotionNegative = "negative"
	EmotionNeutral  = "neutral"
)

// Tags describe a single customer message. They are written to spans only and
// never feed back into the conversation.
type Tags struct {
	Topic          string  `json:"topic"`
	Emotion        string  `json:"emotion"`
	ConfusionScore float64 `json:"confusion_score"`
}

type Tagger struct {
	chat      einomodel.BaseChatModel
	modelName string
	prices    *model.PriceTable
	timeout   time.Duration
}

func New(chat einomodel.BaseChatModel, modelName string, prices *model.PriceTable, timeout time.Duration) *Tagger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tagger{chat: chat, modelName: modelName, prices: prices, timeout: timeout}
}

// Tag classifies query with one model call inside a background.tagging span.
func (t *Tagger) Tag(ctx context.Context, query string) (tags *Tags, err error) {
	ctx, span := telemetry.StartSpan(ctx, "background.tagging")
	defer func() { telemetry.EndSpan(span, err) }()

	msg, err := prompts.User(ctx, prompts.Tagging, map[string]any{"Query": query, "Topics": Topics})
	if err != nil {
		return nil, err
	}
	out, err := t.chat.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return nil, fmt.Errorf("tagging model: %w", err)
	}
	if out == nil {
		return nil, errors.New("tagging model: empty response")
	}
	t.annotateUsage(ctx, out)

	var raw Tags
	if err := parsers.DecodeJSONObject(out.Content, &raw); err != nil {
		return nil, err
	}
	tags = normalize(raw)

	span.SetAttributes(
		attribute.String("user.topic", tags.Topic),
		attribute.String("user.emotion", tags.Emotion),
		attribute.Float64("user.confusion_score", tags.ConfusionScore),
	)
	return tags, nil
}

// Spawn tags query in the background. The returned channel is closed when
// tagging has finished. Cancellation of ctx does not stop tagging, panics are
// recovered and errors are only logged.
func (t *Tagger) Spawn(ctx context.Context, query string) <-chan struct{} {
	done := make(chan struct{})
	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logx.Error().Str("component", "tagging").Msgf("panic recovered: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(bg, t.timeout)
		defer cancel()

		tags, err := t.Tag(ctx, query)
		if err != nil {
			logx.Warn().Err(err).Msg("Background tagging failed")
			return
		}
		logx.Info().
			Str("topic", tags.Topic).
			Str("emotion", tags.Emotion).
			Float64("confusion_score", tags.ConfusionScore).
			Msg("Background tagging finished")
	}()
	return done
}

func (t *Tagger) annotateUsage(ctx context.Context, out *schema.Message) {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	u := out.ResponseMeta.Usage
	attrs := []attribute.KeyValue{
		telemetry.AttrLLMModel.String(t.modelName),
		telemetry.AttrInputTokens.Int(u.PromptTokens),
		telemetry.AttrOutputTokens.Int(u.CompletionTokens),
		telemetry.AttrTotalTokens.Int(u.TotalTokens),
	}
	if t.prices != nil {
		if p, err := t.prices.Lookup(t.modelName); err == nil {
			_, _, total := model.ComputeCost(u, p)
			attrs = append(attrs, telemetry.AttrTotalCost.Float64(total))
		}
	}
	telemetry.Annotate(ctx, attrs...)
}

func normalize(raw Tags) *Tags {
	tags := &Tags{Topic: "Other", Emotion: EmotionNeutral, ConfusionScore: raw.ConfusionScore}
	for _, topic := range Topics {
		if strings.EqualFold(strings.TrimSpace(raw.Topic), topic) {
			tags.Topic = topic
			break
		}
	}
	switch e := strings.ToLower(strings.TrimSpace(raw.Emotion)); e {
	case EmotionPositive, EmotionNegative, EmotionNeutral:
		tags.Emotion = e
	}
	tags.ConfusionScore = min(max(tags.ConfusionScore, 0), 1)
	return tags
}
