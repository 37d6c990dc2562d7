// Package interpret turns raw, untrusted model output into entity
// candidates. It never fails fatally: when nothing can be recovered it
// reports ErrParseFailure with an empty candidate list.
package interpret

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/taxonomy"
)

// ErrParseFailure means no structured entity object could be recovered.
var ErrParseFailure = eris.New("interpret: no structured entity object recovered")

type step struct {
	name Strategy
	fn   StrategyFunc
	// answerOnly steps never look at the reasoning channel.
	answerOnly bool
	// permissive steps are skipped for truncated responses.
	permissive bool
}

var cascade = []step{
	{name: StrategyDirect, fn: Direct, answerOnly: true},
	{name: StrategyFenced, fn: Fenced},
	{name: StrategyBraces, fn: Braces},
	{name: StrategyEntitiesList, fn: EntitiesList, permissive: true},
}

// Outcome is the result of interpreting one response.
type Outcome struct {
	Candidates []model.Candidate
	Strategy   Strategy
	// Channel is "answer" or "reasoning": where the payload was found.
	Channel string
	Dropped map[model.ErrorKind]int
	Err     error
}

// Interpreter validates recovered items against one taxonomy.
type Interpreter struct {
	tax         *taxonomy.Taxonomy
	maxEntities int
}

// New creates an Interpreter. maxEntities <= 0 means unlimited.
func New(tax *taxonomy.Taxonomy, maxEntities int) *Interpreter {
	return &Interpreter{tax: tax, maxEntities: maxEntities}
}

// Interpret runs the parse cascade over raw and converts the first payload
// recovered into candidates for chunk.
func (in *Interpreter) Interpret(raw model.RawResponse, chunk model.Chunk) Outcome {
	out := Outcome{Strategy: StrategyNone, Dropped: make(map[model.ErrorKind]int)}

	payload, strategy, channel := Recover(raw)
	if payload == nil {
		out.Err = ErrParseFailure
		zap.L().Debug("interpret: parse failure",
			zap.Int("chunk", chunk.Index),
			zap.Bool("truncated", raw.Truncated),
			zap.Int("answer_len", len(raw.Answer)),
			zap.Int("reasoning_len", len(raw.Reasoning)),
		)
		return out
	}
	out.Strategy = strategy
	out.Channel = channel

	for _, rawItem := range payload.Items {
		it, ok := decodeItem(rawItem)
		if !ok {
			out.Dropped[model.ErrKindMalformedItem]++
			continue
		}
		it = trimMention(it)
		if it.Mention == "" {
			out.Dropped[model.ErrKindMalformedItem]++
			continue
		}
		if !in.tax.Has(it.Label) {
			out.Dropped[model.ErrKindUnknownLabel]++
			continue
		}
		if in.maxEntities > 0 && len(out.Candidates) >= in.maxEntities {
			out.Dropped[model.ErrKindEntityLimit]++
			continue
		}
		out.Candidates = append(out.Candidates, model.Candidate{
			Mention:      it.Mention,
			Label:        it.Label,
			ClaimedStart: it.Start,
			ClaimedEnd:   it.End,
			Confidence:   it.Confidence,
			ChunkIndex:   chunk.Index,
		})
	}
	return out
}

// Recover runs the cascade and returns the first payload found, which
// strategy produced it and from which channel. Inline <think> blocks are
// moved out of the answer first. The scan text is the answer, or the
// reasoning when the answer is empty.
func Recover(raw model.RawResponse) (*Payload, Strategy, string) {
	reasoning, answer := SplitThinking(raw.Answer)
	if raw.Reasoning != "" {
		reasoning = joinNonEmpty(raw.Reasoning, reasoning)
	}

	text, channel := answer, "answer"
	if strings.TrimSpace(answer) == "" {
		text, channel = reasoning, "reasoning"
	}
	if strings.TrimSpace(text) == "" {
		return nil, StrategyNone, ""
	}

	for _, s := range cascade {
		if s.answerOnly && channel != "answer" {
			continue
		}
		if s.permissive && raw.Truncated {
			continue
		}
		if p, ok := s.fn(text); ok {
			return p, s.name, channel
		}
	}
	return nil, StrategyNone, ""
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitThinking separates inline <think>...</think> segments from text. An
// unclosed <think> consumes the rest of the text as reasoning.
func SplitThinking(text string) (reasoning, answer string) {
	if !strings.Contains(text, thinkOpen) && !strings.Contains(text, thinkClose) {
		return "", text
	}

	var r, a strings.Builder
	rest := text
	// Some servers strip the opening tag and only emit the closing one.
	if i, j := strings.Index(rest, thinkClose), strings.Index(rest, thinkOpen); i >= 0 && (j < 0 || i < j) {
		r.WriteString(rest[:i])
		rest = rest[i+len(thinkClose):]
	}
	for {
		i := strings.Index(rest, thinkOpen)
		if i < 0 {
			a.WriteString(rest)
			break
		}
		a.WriteString(rest[:i])
		rest = rest[i+len(thinkOpen):]
		j := strings.Index(rest, thinkClose)
		if j < 0 {
			if r.Len() > 0 {
				r.WriteByte('\n')
			}
			r.WriteString(rest)
			break
		}
		if r.Len() > 0 {
			r.WriteByte('\n')
		}
		r.WriteString(rest[:j])
		rest = rest[j+len(thinkClose):]
	}
	return strings.TrimSpace(r.String()), strings.TrimSpace(a.String())
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}
