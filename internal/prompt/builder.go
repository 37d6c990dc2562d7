// Package prompt renders chunk extraction requests for the LLM.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/taxonomy"
)

const systemTemplate = `You are an annotation assistant for legal and regulatory texts (%s).
Identify every named entity in the text that belongs to one of the labels below.
Copy each mention exactly as it appears in the text, character for character. Do not
paraphrase, translate, normalize punctuation or merge separate mentions.

Labels:
%s
Rules:
- Use only the labels listed above.
- "start" and "end" are 0-based character offsets of the mention inside the given text
  (end is exclusive). Give your best estimate; the mention text is authoritative.
- List entities in reading order. Report at most %d entities.
- If there are no entities, return {"entities": []}.

Output format (return only this JSON object, no commentary):
%s`

const schemaExample = `{"entities": [{"text": "《中华人民共和国防洪法》", "label": "法律法规", "start": 12, "end": 24}]}`

const userTemplate = `Text (part %d, %d characters):
<<<
%s
>>>`

// Options are the generation parameters attached to every request.
type Options struct {
	Model          string
	MaxTokens      int64
	Temperature    float64
	MaxEntities    int
	Reasoning      bool
	ThinkingBudget int64
	CacheSystem    bool
}

// Build renders the request for one chunk. It is a pure function of its
// inputs; taxonomy patterns are never rendered.
func Build(chunk model.Chunk, tax *taxonomy.Taxonomy, opts Options) model.Request {
	maxEntities := opts.MaxEntities
	if maxEntities <= 0 {
		maxEntities = 50
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return model.Request{
		System:         System(tax, maxEntities),
		Prompt:         fmt.Sprintf(userTemplate, chunk.Index+1, chunk.Len(), chunk.Text),
		Model:          opts.Model,
		MaxTokens:      maxTokens,
		Temperature:    opts.Temperature,
		Reasoning:      opts.Reasoning,
		ThinkingBudget: opts.ThinkingBudget,
		CacheSystem:    opts.CacheSystem,
	}
}

// System renders the chunk-independent instruction block. It is identical
// for every chunk of a session, which makes it cacheable.
func System(tax *taxonomy.Taxonomy, maxEntities int) string {
	return fmt.Sprintf(systemTemplate, tax.Description(), LabelCatalog(tax), maxEntities, schemaExample)
}

// LabelCatalog lists every label with its description, grouped by category.
func LabelCatalog(tax *taxonomy.Taxonomy) string {
	entities := tax.Entities()
	var b strings.Builder
	for _, cat := range tax.Categories() {
		if cat != "" {
			fmt.Fprintf(&b, "[%s]\n", cat)
		}
		for _, e := range entities {
			if e.Category != cat {
				continue
			}
			desc := firstLine(e.Description)
			if desc == "" {
				fmt.Fprintf(&b, "- %s\n", e.Label)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", e.Label, desc)
		}
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
