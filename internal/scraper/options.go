// Package scraper crawls documentation sources: breadth-first over a
// site or file tree, scope- and pattern-filtered, with a differential
// refresh mode driven by conditional requests.
package scraper

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// Scope bounds link discovery relative to the start URL.
const (
	ScopeSubpages = "subpages"
	ScopeHostname = "hostname"
	ScopeDomain   = "domain"
)

// Options is the scraper options wire shape, persisted with the
// version so refresh runs reproduce the original crawl.
type Options struct {
	MaxPages        int               `json:"max_pages,omitempty" yaml:"max_pages" validate:"omitempty,gte=1"`
	MaxDepth        int               `json:"max_depth,omitempty" yaml:"max_depth" validate:"omitempty,gte=0"`
	Scope           string            `json:"scope,omitempty" yaml:"scope" validate:"omitempty,oneof=subpages hostname domain"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty" yaml:"follow_redirects"`
	IgnoreErrors    *bool             `json:"ignore_errors,omitempty" yaml:"ignore_errors"`
	MaxConcurrency  int               `json:"max_concurrency,omitempty" yaml:"max_concurrency" validate:"omitempty,gte=1"`
	IncludePatterns []string          `json:"include_patterns,omitempty" yaml:"include_patterns"`
	ExcludePatterns []string          `json:"exclude_patterns,omitempty" yaml:"exclude_patterns"`
	ScrapeMode      string            `json:"scrape_mode,omitempty" yaml:"scrape_mode" validate:"omitempty,oneof=auto fetch playwright"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers"`
}

var validate = validator.New()

// Defaults applied by Normalized.
const (
	DefaultMaxPages       = 1000
	DefaultMaxDepth       = 3
	DefaultMaxConcurrency = 3
)

// Validate checks the wire constraints plus pattern syntax.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return errors.Validation("invalid scraper options: %v", err)
	}
	for _, p := range append(append([]string{}, o.IncludePatterns...), o.ExcludePatterns...) {
		if _, err := compilePattern(p); err != nil {
			return errors.Validation("invalid pattern %q: %v", p, err)
		}
	}
	return nil
}

// Normalized returns a copy with defaults filled in.
func (o Options) Normalized() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Scope == "" {
		o.Scope = ScopeSubpages
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.FollowRedirects == nil {
		t := true
		o.FollowRedirects = &t
	}
	if o.IgnoreErrors == nil {
		t := true
		o.IgnoreErrors = &t
	}
	return o
}

// Marshal serializes options for persistence with the version row.
func (o Options) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// UnmarshalOptions restores persisted options; nil data yields zero
// options (defaults apply via Normalized).
func UnmarshalOptions(data []byte) (Options, error) {
	var o Options
	if len(data) == 0 {
		return o, nil
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, errors.Validation("corrupt scraper options: %v", err)
	}
	return o, nil
}

// matcher is a compiled include/exclude pattern: a regular expression
// when the pattern compiles as one, otherwise a path glob.
type matcher struct {
	re   *regexp.Regexp
	glob string
}

func compilePattern(pattern string) (*matcher, error) {
	if re, err := regexp.Compile(pattern); err == nil {
		return &matcher{re: re}, nil
	}
	// Glob fallback for patterns like "*.html" that are not valid
	// regular expressions.
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	return &matcher{glob: pattern}, nil
}

func (m *matcher) matches(url string) bool {
	if m.re != nil {
		return m.re.MatchString(url)
	}
	if ok, _ := path.Match(m.glob, url); ok {
		return true
	}
	// Globs also match against the trailing path segment, so
	// "*.html" works without spelling out the scheme and host.
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		ok, _ := path.Match(m.glob, url[idx+1:])
		return ok
	}
	return false
}

// filter evaluates include/exclude patterns. Exclude wins on conflict;
// an empty include list admits everything.
type filter struct {
	include []*matcher
	exclude []*matcher
}

func newFilter(opts Options) (*filter, error) {
	f := &filter{}
	for _, p := range opts.IncludePatterns {
		m, err := compilePattern(p)
		if err != nil {
			return nil, errors.Validation("invalid include pattern %q: %v", p, err)
		}
		f.include = append(f.include, m)
	}
	for _, p := range opts.ExcludePatterns {
		m, err := compilePattern(p)
		if err != nil {
			return nil, errors.Validation("invalid exclude pattern %q: %v", p, err)
		}
		f.exclude = append(f.exclude, m)
	}
	return f, nil
}

func (f *filter) admits(url string) bool {
	for _, m := range f.exclude {
		if m.matches(url) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, m := range f.include {
		if m.matches(url) {
			return true
		}
	}
	return false
}
