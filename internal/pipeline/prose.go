package pipeline

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// defaultExcludedSelectors are stripped from every HTML document before
// conversion: navigation chrome that would pollute the index.
var defaultExcludedSelectors = []string{
	"nav", "footer", "header", "aside", "script", "style", "noscript",
	"[role=navigation]", "[role=banner]", "[aria-hidden=true]",
}

// ProsePipeline handles HTML, Markdown, and plain text. HTML is
// sanitized and converted to Markdown; everything then goes through the
// heading-aligned splitter.
type ProsePipeline struct {
	exclude   []string
	converter *md.Converter
}

// NewProse builds the prose pipeline with optional extra CSS selectors
// to strip from HTML input.
func NewProse(excludeSelectors []string) *ProsePipeline {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return &ProsePipeline{
		exclude:   append(append([]string{}, defaultExcludedSelectors...), excludeSelectors...),
		converter: conv,
	}
}

// Markdown converts fetched bytes to Markdown without splitting. HTML
// is sanitized and converted; anything else passes through verbatim.
func (p *ProsePipeline) Markdown(content []byte, mimeType, sourceURL string) (string, error) {
	if isHTML(mimeType) {
		markdown, _, _, err := p.htmlToMarkdown(content, sourceURL)
		return markdown, err
	}
	return string(content), nil
}

func (p *ProsePipeline) CanProcess(mimeType string) bool {
	return isHTML(mimeType) || isMarkdown(mimeType) || isPlainText(mimeType)
}

func (p *ProsePipeline) Close() error { return nil }

func (p *ProsePipeline) Process(ctx context.Context, content []byte, mimeType, sourceURL string) (*ScrapeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		markdown string
		title    string
		links    []string
	)
	if isHTML(mimeType) {
		var err error
		markdown, title, links, err = p.htmlToMarkdown(content, sourceURL)
		if err != nil {
			return nil, err
		}
	} else {
		markdown = string(content)
	}

	mdTitle, chunks := splitMarkdown(markdown)
	if title == "" {
		title = mdTitle
	}
	if title == "" {
		title = sourceURL
	}

	return &ScrapeResult{
		URL:         sourceURL,
		Title:       title,
		ContentType: mimeType,
		Chunks:      chunks,
		Links:       links,
	}, nil
}

func (p *ProsePipeline) htmlToMarkdown(content []byte, sourceURL string) (markdown, title string, links []string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", "", nil, errors.Permanent(err, "failed to parse html from %s", sourceURL)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	links = extractLinks(doc, sourceURL)

	for _, sel := range p.exclude {
		doc.Find(sel).Remove()
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	html, err := body.Html()
	if err != nil {
		return "", "", nil, errors.Permanent(err, "failed to serialize html from %s", sourceURL)
	}

	markdown, err = p.converter.ConvertString(html)
	if err != nil {
		return "", "", nil, errors.Permanent(err, "failed to convert html from %s", sourceURL)
	}
	return markdown, title, links, nil
}

// extractLinks collects absolute http/https/file links, resolved
// against the page URL, fragments stripped, in document order without
// duplicates.
func extractLinks(doc *goquery.Document, sourceURL string) []string {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := base.Parse(href)
		if err != nil {
			return
		}
		ref.Fragment = ""
		switch ref.Scheme {
		case "http", "https", "file":
		default:
			return
		}
		link := ref.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
