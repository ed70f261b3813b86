package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-support/server/internal/agent/model"
)

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "SELECT 1;", want: "SELECT 1"},
		{name: "fenced with language", in: "```sql\nSELECT * FROM products;\n```", want: "SELECT * FROM products"},
		{name: "fenced without language", in: "```\nSELECT 1\n```", want: "SELECT 1"},
		{name: "several semicolons", in: "  SELECT 1 ;; \n", want: "SELECT 1"},
		{name: "empty fence", in: "```", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanSQL(tt.in))
		})
	}
}

func TestClassification(t *testing.T) {
	c, err := Classification("Security Violation.")
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationSecurityViolation, c)

	c, err = Classification(" Request\n")
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationRequest, c)

	_, err = Classification("maybe")
	assert.ErrorIs(t, err, ErrUnrecognizedLabel)
}

func TestRagType(t *testing.T) {
	r, err := RagType(`"database"`)
	require.NoError(t, err)
	assert.Equal(t, model.RagTypeDatabase, r)

	_, err = RagType("both")
	assert.ErrorIs(t, err, ErrUnrecognizedLabel)
}

func TestVerdict(t *testing.T) {
	assert.Equal(t, model.VerdictRelevant, Verdict("Relevant"))
	assert.Equal(t, model.VerdictUnknown, Verdict("kind of"))
}

func TestDecodeJSONObject(t *testing.T) {
	var out struct {
		Topic string  `json:"topic"`
		Score float64 `json:"confusion_score"`
	}
	require.NoError(t, DecodeJSONObject("```json\n{\"topic\": \"Other\", \"confusion_score\": 0.4}\n```", &out))
	assert.Equal(t, "Other", out.Topic)
	assert.InDelta(t, 0.4, out.Score, 1e-9)

	require.NoError(t, DecodeJSONObject(`Sure! {"topic": "Billing & Account"} hope that helps`, &out))
	assert.Equal(t, "Billing & Account", out.Topic)

	assert.ErrorIs(t, DecodeJSONObject("no json here", &out), ErrNoJSONObject)
	assert.Error(t, DecodeJSONObject("{not json}", &out))
}

func TestSafeSnippet(t *testing.T) {
	long := strings.Repeat("x", maxErrSnippet+10)
	assert.Len(t, safeSnippet(long), maxErrSnippet+3)
	assert.Equal(t, "abc", safeSnippet("  abc "))
}
