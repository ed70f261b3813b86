package parsers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chative-support/server/internal/agent/model"
	errx "github.com/chative-support/server/internal/core/error"
	logx "github.com/chative-support/server/pkg/logger"
)

// basic safety limits to avoid pathological model output
const (
	maxContentLen = 64 * 1024 // 64KB
	maxErrSnippet = 200       // limit error snippet size
)

var (
	ErrUnrecognizedLabel = errors.New("unrecognized label")
	ErrNoJSONObject      = errors.New("no JSON object in model output")
)

func truncate(content, component string) string {
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", component).
			Int("len", len(content)).
			Int("max_len", maxContentLen).
			Msg("Model output truncated")
		return content[:maxContentLen]
	}
	return content
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrSnippet {
		return s[:maxErrSnippet] + "..."
	}
	return s
}

// StripCodeFence removes a surrounding markdown code fence, including an
// optional language tag on the opening fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// CleanSQL turns a generated query into executable text: code fences,
// surrounding whitespace and trailing semicolons are removed.
func CleanSQL(content string) string {
	s := StripCodeFence(truncate(content, "sql_parser"))
	return strings.TrimSpace(strings.TrimRight(s, "; \t\r\n"))
}

// Classification parses the classifier output into the closed label set.
func Classification(content string) (model.Classification, error) {
	c := model.ParseClassification(truncate(content, "classification_parser"))
	if !c.Valid() {
		return model.ClassificationUnknown, fmt.Errorf("%w: classification %q", ErrUnrecognizedLabel, safeSnippet(content))
	}
	return c, nil
}

// RagType parses the router output into the closed label set.
func RagType(content string) (model.RagType, error) {
	r := model.ParseRagType(truncate(content, "rag_type_parser"))
	if !r.Valid() {
		return model.RagTypeUnknown, fmt.Errorf("%w: rag type %q", ErrUnrecognizedLabel, safeSnippet(content))
	}
	return r, nil
}

// Verdict parses a critic's grade. Unparsable grades yield VerdictUnknown.
func Verdict(content string) model.Verdict {
	return model.ParseVerdict(truncate(content, "verdict_parser"))
}

// DecodeJSONObject extracts the first top-level JSON object from content and
// decodes it into v.
func DecodeJSONObject(content string, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "json_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("json parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
		}
	}()

	s := StripCodeFence(truncate(content, "json_parser"))
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return fmt.Errorf("%w: %q", ErrNoJSONObject, safeSnippet(content))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model JSON %q: %w", safeSnippet(s[start:end+1]), err)
	}
	return nil
}
