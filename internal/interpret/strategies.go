package interpret

import (
	"bytes"
	"encoding/json"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Strategy names one step of the parse cascade.
type Strategy string

const (
	StrategyDirect       Strategy = "direct"
	StrategyFenced       Strategy = "fenced"
	StrategyBraces       Strategy = "braces"
	StrategyEntitiesList Strategy = "entities_list"
	StrategyNone         Strategy = "none"
)

// Payload is a decoded response object: the raw entity items, not yet
// validated against a taxonomy.
type Payload struct {
	Items []json.RawMessage
}

// StrategyFunc recovers a payload from text, or reports false.
type StrategyFunc func(text string) (*Payload, bool)

// decodePayload accepts exactly one JSON object with an "entities" array.
// The exact key wins; otherwise the first case-insensitive match in key
// order is used. A null array is an empty payload.
func decodePayload(data []byte) (*Payload, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	if raw, ok := obj["entities"]; ok {
		return decodeItems(raw)
	}
	for _, key := range slices.Sorted(maps.Keys(obj)) {
		if strings.EqualFold(key, "entities") {
			return decodeItems(obj[key])
		}
	}
	return nil, false
}

func decodeItems(raw json.RawMessage) (*Payload, bool) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return &Payload{}, true
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return &Payload{Items: items}, true
}

// Direct parses the whole text as the expected schema.
func Direct(text string) (*Payload, bool) {
	return decodePayload([]byte(text))
}

var fenceRe = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")

var structuredTags = map[string]bool{
	"":           true,
	"json":       true,
	"json5":      true,
	"jsonc":      true,
	"javascript": true,
	"js":         true,
}

// Fenced parses the contents of fenced code blocks tagged as structured data.
// When several blocks parse, the last one wins.
func Fenced(text string) (*Payload, bool) {
	matches := fenceRe.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if !structuredTags[strings.ToLower(matches[i][1])] {
			continue
		}
		body := matches[i][2]
		if p, ok := decodePayload([]byte(body)); ok {
			return p, true
		}
		if p, ok := Braces(body); ok {
			return p, true
		}
	}
	return nil, false
}

// Braces finds every outermost balanced {...} span (string-aware) and
// tries them from last to first, descending into a span's interior when the
// span itself does not decode.
func Braces(text string) (*Payload, bool) {
	spans := balancedSpans(text, '{', '}')
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		if p, ok := decodePayload([]byte(text[s[0]:s[1]])); ok {
			return p, true
		}
		if inner := text[s[0]+1 : s[1]-1]; strings.ContainsRune(inner, '{') {
			if p, ok := Braces(inner); ok {
				return p, true
			}
		}
	}
	return nil, false
}

// balancedSpans returns [start, end) byte ranges of outermost balanced
// open/close pairs. Quotes are only tracked inside a span so that prose
// apostrophes and quotation marks cannot derail the scan. An opener that is
// never closed is skipped and the scan resumes right after it.
func balancedSpans(text string, open, close byte) [][2]int {
	var spans [][2]int
	for from := 0; from < len(text); {
		found, unclosed := scanSpans(text, from, open, close)
		spans = append(spans, found...)
		if unclosed < 0 {
			break
		}
		from = unclosed + 1
	}
	return spans
}

// scanSpans collects closed spans from text[from:] and reports the index of
// the opener left unclosed at the end of the text, or -1.
func scanSpans(text string, from int, open, close byte) (spans [][2]int, unclosed int) {
	depth, start := 0, -1
	var quote byte
	escaped := false
	for i := from; i < len(text); i++ {
		c := text[i]
		if depth > 0 && quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch {
		case depth > 0 && c == '"':
			quote = c
		case c == open:
			if depth == 0 {
				start = i
			}
			depth++
		case c == close && depth > 0:
			depth--
			if depth == 0 {
				spans = append(spans, [2]int{start, i + 1})
			}
		}
	}
	if depth > 0 {
		return spans, start
	}
	return spans, -1
}

var entitiesKeyRe = regexp.MustCompile(`(?i)["']?entities["']?\s*[:=]\s*\[`)

// EntitiesList is the permissive fallback: it locates the last "entities"
// key followed by a bracketed list, repairs common non-JSON artifacts and
// rebuilds a minimal object around it.
func EntitiesList(text string) (*Payload, bool) {
	locs := entitiesKeyRe.FindAllStringIndex(text, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		open := locs[i][1] - 1
		end, ok := matchBracket(text, open)
		if !ok {
			continue
		}
		list := text[open:end]
		for _, candidate := range []string{list, repairJSON(list)} {
			if p, ok := decodePayload([]byte(`{"entities":` + candidate + `}`)); ok {
				return p, true
			}
		}
	}
	return nil, false
}

// matchBracket returns the index one past the ']' matching text[open]. Both
// quote styles delimit strings.
func matchBracket(text string, open int) (int, bool) {
	depth := 0
	var quote byte
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)
	pyLiteralRe     = regexp.MustCompile(`\b(None|True|False)\b`)
)

// repairJSON converts single-quoted strings to JSON strings, drops trailing
// commas and maps Python literals. It never changes string contents other
// than escaping.
func repairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote rune
	escaped := false
	for _, r := range s {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
				if quote == '\'' && r == '\'' {
					b.WriteRune(r)
					continue
				}
				b.WriteByte('\\')
				b.WriteRune(r)
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
				b.WriteByte('"')
			case r == '"' && quote == '\'':
				b.WriteString(`\"`)
			default:
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case '"', '\'':
			quote = r
			b.WriteByte('"')
		default:
			b.WriteRune(r)
		}
	}
	return replaceOutsideStrings(b.String(), func(seg string) string {
		seg = trailingCommaRe.ReplaceAllString(seg, "$1")
		return pyLiteralRe.ReplaceAllStringFunc(seg, func(m string) string { return pyLiterals[m] })
	})
}

var pyLiterals = map[string]string{"None": "null", "True": "true", "False": "false"}

// replaceOutsideStrings applies fn only to segments outside JSON strings.
func replaceOutsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	inString, escaped := false, false
	segStart := 0
	flush := func(end int) {
		b.WriteString(fn(s[segStart:end]))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				b.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if c == '"' {
			flush(i)
			segStart = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		flush(len(s))
	}
	return b.String()
}
