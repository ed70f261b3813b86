package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	MetaSource  = "source"
	MetaSection = "section"

	maxSectionDepth = 4
)

// DefaultSeparators are tried in order when a chunk is too large: blank
// line, newline, space, then single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker splits markdown into heading-scoped sections and then into
// overlapping chunks of at most Size characters.
type Chunker struct {
	Size       int
	Overlap    int
	Separators []string
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{Size: size, Overlap: overlap, Separators: DefaultSeparators}, nil
}

// Chunk turns a markdown document into retrievable documents. Each chunk is
// prefixed with its heading path so the heading context survives splitting.
func (c *Chunker) Chunk(source string, md []byte) []*schema.Document {
	var docs []*schema.Document
	for _, sec := range parseSections(md) {
		heading := strings.Join(sec.path, " > ")
		for _, piece := range c.Split(sec.body) {
			content := piece
			if heading != "" {
				content = heading + "\n" + piece
			}
			docs = append(docs, &schema.Document{
				ID:      fmt.Sprintf("%s#%d", source, len(docs)),
				Content: content,
				MetaData: map[string]any{
					MetaSource:  source,
					MetaSection: heading,
				},
			})
		}
	}
	return docs
}

// Split recursively splits text so that no piece exceeds Size characters,
// carrying up to Overlap characters of context between neighbours.
func (c *Chunker) Split(s string) []string {
	seps := c.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return c.split(s, seps)
}

func (c *Chunker) split(s string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, candidate := range seps {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(s, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var parts []string
	if sep == "" {
		for _, r := range s {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(s, sep)
	}

	var out, good []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if runeLen(p) < c.Size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, c.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, sep)...)
	}
	return out
}

func (c *Chunker) merge(parts []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	joinedLen := func(extra int) int {
		if len(current) > 0 {
			return total + extra + sepLen
		}
		return total + extra
	}
	for _, p := range parts {
		n := runeLen(p)
		if joinedLen(n) > c.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				out = append(out, doc)
			}
			for len(current) > 0 && (total > c.Overlap || joinedLen(n) > c.Size) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		out = append(out, doc)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

type section struct {
	path []string
	body string
}

// parseSections walks the top-level blocks of md and groups the raw source of
// each block under the heading path it appears beneath. Content before the
// first heading forms a section with an empty path.
func parseSections(md []byte) []section {
	root := goldmark.DefaultParser().Parse(text.NewReader(md))

	var (
		out  []section
		path []string
		buf  strings.Builder
	)
	flush := func() {
		if body := strings.TrimSpace(buf.String()); body != "" {
			out = append(out, section{path: append([]string(nil), path...), body: body})
		}
		buf.Reset()
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			if h.Level <= maxSectionDepth {
				if len(path) >= h.Level {
					path = path[:h.Level-1]
				}
				path = append(path, strings.TrimSpace(string(h.Lines().Value(md))))
			}
			continue
		}
		start, stop, ok := blockSpan(n)
		if !ok {
			continue
		}
		for start > 0 && md[start-1] != '\n' {
			start--
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(strings.TrimRight(string(md[start:stop]), " \t\r\n"))
	}
	flush()
	return out
}

// blockSpan returns the source byte range covered by the lines of n and its
// descendants.
func blockSpan(n ast.Node) (int, int, bool) {
	start, stop, found := 0, 0, false
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := c.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if !found || seg.Start < start {
				start = seg.Start
			}
			if !found || seg.Stop > stop {
				stop = seg.Stop
			}
			found = true
		}
		return ast.WalkContinue, nil
	})
	return start, stop, found
}
