package pipeline

import "strings"

// Chunk type tags carried in chunk metadata.
const (
	TypeText       = "text"
	TypeCode       = "code"
	TypeTable      = "table"
	TypeStructural = "structural"
	TypeHeading    = "heading"
)

func isHTML(mimeType string) bool {
	return strings.Contains(mimeType, "html") || strings.Contains(mimeType, "xhtml")
}

func isMarkdown(mimeType string) bool {
	return strings.Contains(mimeType, "markdown")
}

func isPlainText(mimeType string) bool {
	return mimeType == "" || strings.HasPrefix(mimeType, "text/plain")
}

func isJSONMime(mimeType string) bool {
	return strings.Contains(mimeType, "json")
}

// sourceLanguages maps source-code MIME types to tree-sitter language keys.
var sourceLanguages = map[string]string{
	"text/x-go":          "go",
	"application/x-go":   "go",
	"text/x-python":      "python",
	"application/python": "python",
	"text/javascript":    "javascript",
	"application/javascript": "javascript",
	"text/x-typescript":      "typescript",
	"application/typescript": "typescript",
}

func languageFor(mimeType string) (string, bool) {
	lang, ok := sourceLanguages[mimeType]
	return lang, ok
}

// Hierarchical reports whether content of this MIME type splits into a
// structural container tree (source code, JSON) rather than prose.
func Hierarchical(mimeType string) bool {
	if _, ok := languageFor(mimeType); ok {
		return true
	}
	return isJSONMime(mimeType)
}
