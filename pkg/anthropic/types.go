package anthropic

import "strings"

// Content block types returned by the Messages API.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
)

// MessageRequest is a single-turn Messages API call.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
	// ThinkingBudget enables extended thinking when > 0. The API then
	// rejects a custom temperature, so Temperature is not sent.
	ThinkingBudget int64
}

// SystemBlock is one system prompt block, optionally a cache breakpoint.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl marks a block as an ephemeral cache breakpoint.
type CacheControl struct {
	TTL string // "5m" or "1h"; empty uses the API default
}

// Message is one conversational turn.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is the accumulated reply, possibly cut short.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	StopSequence string
	Usage        TokenUsage
}

// ContentBlock is one text or thinking block of a reply.
type ContentBlock struct {
	Type     string
	Text     string
	Thinking string
}

// Text joins the answer blocks of the reply.
func (r *MessageResponse) Text() string {
	return r.collect(BlockText)
}

// Thinking joins the extended thinking blocks of the reply.
func (r *MessageResponse) Thinking() string {
	return r.collect(BlockThinking)
}

func (r *MessageResponse) collect(blockType string) string {
	var parts []string
	for _, b := range r.Content {
		if b.Type != blockType {
			continue
		}
		part := b.Text
		if blockType == BlockThinking {
			part = b.Thinking
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n")
}

// TokenUsage is the token accounting of one reply.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Billed returns all tokens the reply was billed for, cache traffic
// included.
func (u TokenUsage) Billed() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}
