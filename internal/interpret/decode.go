package interpret

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	mentionKeys    = []string{"text", "mention", "entity", "name", "value", "span"}
	labelKeys      = []string{"label", "type", "entity_type", "category", "labels"}
	startKeys      = []string{"start", "start_offset", "begin", "start_pos"}
	endKeys        = []string{"end", "end_offset", "stop", "end_pos"}
	confidenceKeys = []string{"confidence", "score", "probability"}
)

// item is one entity entry after tolerant decoding.
type item struct {
	Mention    string
	Label      string
	Start      *int
	End        *int
	Confidence *float64
}

// decodeItem reads an entity object using the key aliases models commonly
// produce. ok is false when raw is not a JSON object.
func decodeItem(raw json.RawMessage) (item, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return item{}, false
	}
	lower := make(map[string]any, len(obj))
	for k, v := range obj {
		lower[strings.ToLower(strings.TrimSpace(k))] = v
	}

	var it item
	it.Mention = firstString(lower, mentionKeys)
	it.Label = strings.TrimSpace(firstString(lower, labelKeys))
	it.Start = firstInt(lower, startKeys)
	it.End = firstInt(lower, endKeys)
	if f, ok := firstFloat(lower, confidenceKeys); ok {
		f = math.Max(0, math.Min(1, f))
		it.Confidence = &f
	}
	return it, true
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func firstInt(obj map[string]any, keys []string) *int {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			if v >= 0 && v == math.Trunc(v) {
				n := int(v)
				return &n
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
				return &n
			}
		}
	}
	return nil
}

func firstFloat(obj map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// trimMention strips surrounding whitespace and shifts the claimed offsets by
// the number of runes removed on each side.
func trimMention(it item) item {
	lead := strings.IndexFunc(it.Mention, func(r rune) bool { return !unicode.IsSpace(r) })
	if lead < 0 {
		it.Mention = ""
		return it
	}
	trimmed := strings.TrimRightFunc(it.Mention[lead:], unicode.IsSpace)
	leadRunes := utf8.RuneCountInString(it.Mention[:lead])
	tailRunes := utf8.RuneCountInString(it.Mention[lead+len(trimmed):])
	it.Mention = trimmed
	if it.Start != nil && it.End != nil {
		s, e := *it.Start+leadRunes, *it.End-tailRunes
		it.Start, it.End = &s, &e
	}
	return it
}
