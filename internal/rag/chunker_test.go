package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkdown = `Intro line before any heading.

# Policies

## Returns

Items may be returned within 30 days of delivery.

- unused
- original packaging

## Shipping

### Delivery
Standard shipping takes 3 to 5 business days.
`

func TestNewChunkerValidates(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)
	_, err = NewChunker(100, 100)
	assert.Error(t, err)
	c, err := NewChunker(500, 50)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeparators, c.Separators)
}

func TestParseSections(t *testing.T) {
	secs := parseSections([]byte(sampleMarkdown))
	require.Len(t, secs, 3)

	assert.Empty(t, secs[0].path)
	assert.Equal(t, "Intro line before any heading.", secs[0].body)

	assert.Equal(t, []string{"Policies", "Returns"}, secs[1].path)
	assert.Contains(t, secs[1].body, "Items may be returned within 30 days of delivery.")
	assert.Contains(t, secs[1].body, "- unused\n- original packaging")

	assert.Equal(t, []string{"Policies", "Shipping", "Delivery"}, secs[2].path)
	assert.Equal(t, "Standard shipping takes 3 to 5 business days.", secs[2].body)
}

func TestChunkCarriesHeadingPath(t *testing.T) {
	c, err := NewChunker(500, 50)
	require.NoError(t, err)

	docs := c.Chunk("policies.md", []byte(sampleMarkdown))
	require.Len(t, docs, 3)
	assert.Equal(t, "policies.md#1", docs[1].ID)
	assert.Equal(t, "Policies > Returns", docs[1].MetaData[MetaSection])
	assert.Equal(t, "policies.md", docs[1].MetaData[MetaSource])
	assert.True(t, strings.HasPrefix(docs[1].Content, "Policies > Returns\n"))
}

func TestSplitRespectsSizeAndOverlap(t *testing.T) {
	c, err := NewChunker(40, 10)
	require.NoError(t, err)

	words := strings.Repeat("alpha beta gamma delta ", 10)
	pieces := c.Split(words)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 40, p)
	}
	assert.Equal(t, "alpha beta gamma delta alpha beta gamma", pieces[0])
	// The last ten characters of context carry over.
	assert.True(t, strings.HasPrefix(pieces[1], "beta gamma delta"), pieces[1])
}

func TestSplitPrefersParagraphs(t *testing.T) {
	c, err := NewChunker(30, 0)
	require.NoError(t, err)

	pieces := c.Split("first paragraph here\n\nsecond paragraph here")
	assert.Equal(t, []string{"first paragraph here", "second paragraph here"}, pieces)
}

func TestSplitFallsBackToCharacters(t *testing.T) {
	c, err := NewChunker(4, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"abcd", "efgh", "ij"}, c.Split("abcdefghij"))
}
