// Package chunker splits parsed document text into ordered, size-bounded
// chunks with positional metadata. Structural boundaries (headings,
// paragraphs, table rows) are preserved where possible; oversized blocks
// fall back to a sliding window with declared overlap.
package chunker

import (
	"fmt"
	"sort"
	"strings"
)

// Structural tags attached to chunks.
const (
	TagHeading = "heading"
	TagBody    = "body"
	TagTable   = "table"
)

// DefaultBudget is the default maximum chunk size in characters.
const DefaultBudget = 1000

// DefaultOverlap is the default sliding-window overlap in characters.
const DefaultOverlap = 200

// Chunk is a bounded contiguous span of a document's text. Start and End are
// byte offsets into the original text; Text always equals text[Start:End].
type Chunk struct {
	Seq   int
	Text  string
	Start int
	End   int
	Tag   string
}

// Chunker splits text into chunks under a character budget.
type Chunker struct {
	budget  int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithBudget sets the maximum chunk size in characters.
func WithBudget(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.budget = n
		}
	}
}

// WithOverlap sets the sliding-window overlap in characters.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New creates a Chunker. Overlap is clamped below the budget so the window
// always makes progress.
func New(opts ...Option) *Chunker {
	c := &Chunker{budget: DefaultBudget, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.budget {
		c.overlap = c.budget / 4
	}
	return c
}

// Chunk splits text into ordered chunks. The result is all-or-nothing: on
// error no chunks are returned. Sequence indexes are 0-based and contiguous,
// and the union of offset ranges reconstructs the input exactly.
func (c *Chunker) Chunk(text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}

	blocks := splitBlocks(text)

	var chunks []Chunk
	cur := span{start: -1}
	flush := func() {
		if cur.start >= 0 && cur.end > cur.start {
			chunks = append(chunks, Chunk{
				Seq:   len(chunks),
				Text:  text[cur.start:cur.end],
				Start: cur.start,
				End:   cur.end,
				Tag:   cur.tag,
			})
		}
		cur = span{start: -1}
	}

	for _, b := range blocks {
		blockLen := b.end - b.start

		if blockLen > c.budget {
			// Oversized block: flush what we have and slide a window over it.
			flush()
			windows, err := c.window(text, b)
			if err != nil {
				return nil, err
			}
			for _, w := range windows {
				chunks = append(chunks, Chunk{
					Seq:   len(chunks),
					Text:  text[w.start:w.end],
					Start: w.start,
					End:   w.end,
					Tag:   w.tag,
				})
			}
			continue
		}

		if cur.start < 0 {
			cur = b
			continue
		}
		if b.end-cur.start <= c.budget {
			cur.end = b.end
			continue
		}
		flush()
		cur = b
	}
	flush()

	return chunks, nil
}

// span is a half-open byte range over the source text.
type span struct {
	start, end int
	tag        string
}

// splitBlocks cuts text into contiguous structural blocks. Cuts fall at the
// start of heading lines, table rows, and the first non-blank line after a
// blank run, so the blocks cover every byte of the input.
func splitBlocks(text string) []span {
	cuts := map[int]bool{0: true}

	lineStart := 0
	prevBlank := false
	for lineStart < len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd = lineStart + lineEnd + 1
		}

		trimmed := strings.TrimSpace(text[lineStart:lineEnd])
		switch {
		case trimmed == "":
			prevBlank = true
		case strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "|"):
			cuts[lineStart] = true
			prevBlank = false
		default:
			if prevBlank {
				cuts[lineStart] = true
			}
			prevBlank = false
		}
		lineStart = lineEnd
	}

	offsets := make([]int, 0, len(cuts))
	for off := range cuts {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	blocks := make([]span, 0, len(offsets))
	for i, start := range offsets {
		end := len(text)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if end > start {
			blocks = append(blocks, span{start: start, end: end, tag: classify(text[start:end])})
		}
	}
	return blocks
}

// classify tags a block by its first non-blank line.
func classify(block string) string {
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			return TagHeading
		}
		if strings.HasPrefix(trimmed, "|") {
			return TagTable
		}
		return TagBody
	}
	return TagBody
}

// window slides a fixed-size window with overlap over an oversized block,
// preferring to cut at a sentence boundary when one falls in the back half
// of the window.
func (c *Chunker) window(text string, b span) ([]span, error) {
	step := c.budget - c.overlap
	if step <= 0 {
		return nil, fmt.Errorf("chunk budget %d must exceed overlap %d", c.budget, c.overlap)
	}

	var out []span
	start := b.start
	for start < b.end {
		end := start + c.budget
		if end >= b.end {
			out = append(out, span{start: start, end: b.end, tag: b.tag})
			break
		}

		if cut := sentenceCut(text[start:end]); cut > c.budget/2 {
			end = start + cut
		}
		out = append(out, span{start: start, end: end, tag: b.tag})

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out, nil
}

// sentenceCut returns the offset just past the last sentence terminator in
// window, or 0 when none is found.
func sentenceCut(window string) int {
	best := 0
	for i := 0; i < len(window)-1; i++ {
		switch window[i] {
		case '.', '!', '?':
			if window[i+1] == ' ' || window[i+1] == '\n' {
				best = i + 2
			}
		case '\n':
			if best < i+1 {
				best = i + 1
			}
		}
	}
	return best
}

// Reconstruct rebuilds the original text from a chunk sequence, collapsing
// declared overlaps. It is the inverse of Chunk and backs the round-trip
// property tests.
func Reconstruct(chunks []Chunk) string {
	var sb strings.Builder
	written := 0
	for _, ch := range chunks {
		if ch.End <= written {
			continue
		}
		skip := 0
		if ch.Start < written {
			skip = written - ch.Start
		}
		sb.WriteString(ch.Text[skip:])
		written = ch.End
	}
	return sb.String()
}
