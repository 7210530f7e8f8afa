package pipeline

import (
	"context"
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/store"
)

// languageSpec maps one grammar's node types onto chunk boundaries.
type languageSpec struct {
	lang *sitter.Language
	// containers open a nested scope: the header becomes a structural
	// chunk and the body is split recursively.
	containers map[string]struct{}
	// declarations are leaf chunk boundaries.
	declarations map[string]struct{}
}

func set(types ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

var codeLanguages = map[string]*languageSpec{
	"go": {
		lang:       golang.GetLanguage(),
		containers: set(),
		declarations: set("function_declaration", "method_declaration",
			"type_declaration", "const_declaration", "var_declaration"),
	},
	"python": {
		lang:         python.GetLanguage(),
		containers:   set("class_definition"),
		declarations: set("function_definition", "decorated_definition"),
	},
	"javascript": {
		lang:       javascript.GetLanguage(),
		containers: set("class_declaration"),
		declarations: set("function_declaration", "method_definition",
			"lexical_declaration", "variable_declaration", "export_statement"),
	},
	"typescript": {
		lang:       typescript.GetLanguage(),
		containers: set("class_declaration"),
		declarations: set("function_declaration", "method_definition",
			"interface_declaration", "type_alias_declaration",
			"lexical_declaration", "variable_declaration", "export_statement"),
	},
}

// CodePipeline splits source files along declaration boundaries with a
// tree-sitter parse. Chunks are contiguous byte spans of the input:
// concatenating them in order reproduces the file exactly.
//
// The mutex serializes parser access: a TSParser may only be used by
// one thread at a time, and the pipeline is shared across crawl
// goroutines.
type CodePipeline struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

func NewCode() *CodePipeline {
	return &CodePipeline{parser: sitter.NewParser()}
}

func (p *CodePipeline) CanProcess(mimeType string) bool {
	_, ok := languageFor(mimeType)
	return ok
}

func (p *CodePipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser != nil {
		p.parser.Close()
	}
	return nil
}

func (p *CodePipeline) Process(ctx context.Context, content []byte, mimeType, sourceURL string) (*ScrapeResult, error) {
	langName, ok := languageFor(mimeType)
	if !ok {
		return nil, errors.Validation("unsupported source mime type %q", mimeType)
	}
	spec := codeLanguages[langName]

	p.mu.Lock()
	p.parser.SetLanguage(spec.lang)
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	p.mu.Unlock()
	if err != nil {
		return nil, errors.Permanent(err, "failed to parse %s", sourceURL)
	}
	defer tree.Close()

	s := &codeSplitter{source: content, spec: spec}
	root := tree.RootNode()
	s.walkScope(root, nil, 0, uint32(len(content)))

	return &ScrapeResult{
		URL:         sourceURL,
		Title:       path.Base(strings.TrimSuffix(sourceURL, "/")),
		ContentType: mimeType,
		Chunks:      s.chunks,
	}, nil
}

type codeSplitter struct {
	source []byte
	spec   *languageSpec
	chunks []store.IngestChunk
}

// walkScope splits [scopeStart, scopeEnd) along the declaration
// boundaries among n's direct children. Bytes between boundaries become
// filler chunks so nothing is lost.
func (s *codeSplitter) walkScope(n *sitter.Node, symbolPath []string, scopeStart, scopeEnd uint32) {
	cursor := scopeStart

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.StartByte() < scopeStart || child.EndByte() > scopeEnd {
			continue
		}
		nodeType := child.Type()

		if _, isContainer := s.spec.containers[nodeType]; isContainer {
			if body := child.ChildByFieldName("body"); body != nil {
				s.emitFiller(cursor, child.StartByte(), symbolPath)
				name := s.nameOf(child)
				childPath := append(append([]string{}, symbolPath...), name)

				// Container header up to the body opening.
				s.emit(child.StartByte(), body.StartByte(), childPath, TypeStructural)
				s.walkScope(body, childPath, body.StartByte(), body.EndByte())
				s.emitFiller(body.EndByte(), child.EndByte(), childPath)
				cursor = child.EndByte()
				continue
			}
		}

		if _, isDecl := s.spec.declarations[nodeType]; isDecl {
			s.emitFiller(cursor, child.StartByte(), symbolPath)
			name := s.nameOf(child)
			childPath := append(append([]string{}, symbolPath...), name)
			s.emit(child.StartByte(), child.EndByte(), childPath, TypeCode)
			cursor = child.EndByte()
		}
	}

	s.emitFiller(cursor, scopeEnd, symbolPath)
}

func (s *codeSplitter) emit(start, end uint32, symbolPath []string, typ string) {
	if start >= end {
		return
	}
	s.chunks = append(s.chunks, store.IngestChunk{
		Content: string(s.source[start:end]),
		Path:    symbolPath,
		Level:   len(symbolPath),
		Types:   []string{typ},
	})
}

// emitFiller covers the bytes between declarations: imports, comments,
// braces, whitespace. Whitespace-only spans attach to the previous
// chunk instead of becoming chunks of their own.
func (s *codeSplitter) emitFiller(start, end uint32, symbolPath []string) {
	if start >= end {
		return
	}
	span := string(s.source[start:end])
	if strings.TrimSpace(span) == "" && len(s.chunks) > 0 {
		s.chunks[len(s.chunks)-1].Content += span
		return
	}
	s.chunks = append(s.chunks, store.IngestChunk{
		Content: span,
		Path:    symbolPath,
		Level:   len(symbolPath),
		Types:   []string{TypeCode},
	})
}

// identifier-ish node types, in preference order.
var nameNodeTypes = []string{
	"identifier", "type_identifier", "field_identifier", "property_identifier",
}

func (s *codeSplitter) nameOf(n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(s.source)
	}
	// type_declaration and export_statement carry the name a level down.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		for _, t := range nameNodeTypes {
			if child.Type() == t {
				return child.Content(s.source)
			}
		}
		if name := child.ChildByFieldName("name"); name != nil {
			return name.Content(s.source)
		}
	}
	return n.Type()
}
