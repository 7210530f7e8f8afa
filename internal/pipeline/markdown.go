package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/docsmcp/docsmcp/internal/store"
)

// mdBlock is one contiguous span of the source document. Concatenating
// all blocks in order reproduces the document exactly; the splitter
// never inserts separators.
type mdBlock struct {
	text    string
	typ     string // TypeText, TypeCode, or TypeTable
	heading bool
	level   int
	title   string
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)

// parseMarkdownBlocks segments markdown into heading, fenced-code,
// table, and text blocks without losing a byte.
func parseMarkdownBlocks(md string) []mdBlock {
	var blocks []mdBlock
	var current *mdBlock

	open := func(typ string) *mdBlock {
		blocks = append(blocks, mdBlock{typ: typ})
		return &blocks[len(blocks)-1]
	}

	inFence := false
	fenceMarker := ""

	lines := strings.SplitAfter(md, "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)

		if inFence {
			current.text += line
			if strings.HasPrefix(trimmed, fenceMarker) {
				inFence = false
				current = nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			current = open(TypeCode)
			current.text = line
			inFence = true
			fenceMarker = trimmed[:3]

		case headingRe.MatchString(trimmed):
			m := headingRe.FindStringSubmatch(trimmed)
			current = open(TypeText)
			current.text = line
			current.heading = true
			current.level = len(m[1])
			current.title = m[2]
			current = nil // headings are single-line blocks

		case strings.HasPrefix(trimmed, "|"):
			if current == nil || current.typ != TypeTable {
				current = open(TypeTable)
			}
			current.text += line

		case trimmed == "":
			// Blank lines ride along with the open block so no byte is
			// dropped between chunks.
			if current == nil {
				current = open(TypeText)
			}
			current.text += line

		default:
			if current == nil || current.typ != TypeText {
				current = open(TypeText)
			}
			current.text += line
		}
	}

	return blocks
}

type headingFrame struct {
	title string
	level int
}

// splitMarkdown produces ordered chunks aligned to the heading
// hierarchy. Each chunk's path is the stack of enclosing headings and
// its types are the union of its block types. Returns the document
// title (first level-1 heading) alongside.
func splitMarkdown(md string) (string, []store.IngestChunk) {
	blocks := parseMarkdownBlocks(md)

	var (
		title  string
		stack  []headingFrame
		chunks []store.IngestChunk

		content strings.Builder
		typeSet = map[string]struct{}{}
	)

	pathOf := func() []string {
		path := make([]string, len(stack))
		for i, f := range stack {
			path[i] = f.title
		}
		return path
	}
	levelOf := func() int {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1].level
	}

	flush := func() {
		if content.Len() == 0 {
			return
		}
		types := make([]string, 0, len(typeSet))
		for t := range typeSet {
			types = append(types, t)
		}
		sort.Strings(types)
		chunks = append(chunks, store.IngestChunk{
			Content: content.String(),
			Path:    pathOf(),
			Level:   levelOf(),
			Types:   types,
		})
		content.Reset()
		typeSet = map[string]struct{}{}
	}

	appendPiece := func(text, typ string) {
		if content.Len() > 0 && countTokens(content.String())+countTokens(text) > maxChunkTokens {
			flush()
		}
		content.WriteString(text)
		typeSet[typ] = struct{}{}
	}

	for _, b := range blocks {
		if b.heading {
			flush()
			for len(stack) > 0 && stack[len(stack)-1].level >= b.level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingFrame{title: b.title, level: b.level})
			if title == "" && b.level == 1 {
				title = b.title
			}
			appendPiece(b.text, TypeText)
			continue
		}

		if countTokens(b.text) > maxChunkTokens {
			// Oversized block: cut on line boundaries, preserving order
			// and content.
			for _, piece := range splitOversized(b.text, maxChunkTokens) {
				appendPiece(piece, b.typ)
				flush()
			}
			continue
		}
		appendPiece(b.text, b.typ)
	}
	flush()

	return title, chunks
}

// splitOversized cuts text into line-aligned pieces under the token
// budget. A single line over budget is emitted as its own piece.
func splitOversized(text string, budget int) []string {
	var pieces []string
	var current strings.Builder

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if current.Len() > 0 && countTokens(current.String())+countTokens(line) > budget {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
