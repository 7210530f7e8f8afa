package pipeline

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// maxChunkTokens bounds a single chunk; greedy packing merges adjacent
// blocks up to this budget.
const maxChunkTokens = 512

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens measures text with the cl100k_base encoding. When the BPE
// tables cannot be loaded (offline environments) it falls back to the
// chars/4 estimate.
func countTokens(text string) int {
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
