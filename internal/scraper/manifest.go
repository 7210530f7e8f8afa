package scraper

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// Manifest is a YAML file listing documentation sources to index in
// one batch.
//
//	sources:
//	  - library: react
//	    version: 18.2.0
//	    url: https://react.dev/reference/
//	    options:
//	      max_pages: 500
//	      scope: subpages
type Manifest struct {
	Sources []ManifestSource `yaml:"sources"`
}

// ManifestSource is one library version and its crawl configuration.
type ManifestSource struct {
	Library string  `yaml:"library"`
	Version string  `yaml:"version"`
	URL     string  `yaml:"url"`
	Options Options `yaml:"options"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Validation("cannot read manifest %s: %v", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Validation("invalid manifest %s: %v", path, err)
	}
	if len(m.Sources) == 0 {
		return nil, errors.Validation("manifest %s lists no sources", path)
	}
	for i, src := range m.Sources {
		if src.Library == "" {
			return nil, errors.Validation("manifest source %d is missing a library name", i)
		}
		if src.URL == "" {
			return nil, errors.Validation("manifest source %s is missing a url", src.Library)
		}
		if err := src.Options.Validate(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
