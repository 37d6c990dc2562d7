package extract

import (
	"time"

	"github.com/sells-group/annotate-cli/internal/chunk"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/prompt"
	"github.com/sells-group/annotate-cli/internal/synth"
)

// StateFunc observes state transitions of one document. chunk is the
// current chunk index, or -1 outside the per-chunk states.
type StateFunc func(documentID string, state model.State, chunk int)

// Options configure an Extractor. They are fixed at construction.
type Options struct {
	MaxChunkChars       int
	ChunkTolerance      int
	MaxEntitiesPerChunk int
	// ChunkTimeout bounds one provider call. Zero disables it.
	ChunkTimeout time.Duration
	// DocumentBudget bounds a whole document. Zero disables it.
	DocumentBudget time.Duration
	// RetryCount is the number of extra attempts per chunk.
	RetryCount   int
	RetryBackoff time.Duration
	// ContinueOnError skips chunks whose transport retries are exhausted
	// instead of failing the document.
	ContinueOnError bool
	FoldWidth       bool
	Prompt          prompt.Options
	Synth           synth.Options
	OnState         StateFunc
}

// DefaultOptions returns the standard extraction settings.
func DefaultOptions() Options {
	return Options{
		MaxChunkChars:       chunk.DefaultMaxChars,
		MaxEntitiesPerChunk: 50,
		ChunkTimeout:        120 * time.Second,
		DocumentBudget:      15 * time.Minute,
		RetryCount:          2,
		RetryBackoff:        2 * time.Second,
		ContinueOnError:     true,
		Prompt: prompt.Options{
			MaxTokens:   4096,
			MaxEntities: 50,
			CacheSystem: true,
		},
		Synth: synth.DefaultOptions(),
	}
}
