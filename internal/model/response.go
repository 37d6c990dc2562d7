package model

// Request is a provider-neutral LLM request rendered by the prompt builder.
type Request struct {
	// System holds the stable instruction block (label catalog, schema).
	System string `json:"system"`
	// Prompt holds the per-chunk user message.
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	// Reasoning asks reasoning-capable models to emit a thinking channel.
	Reasoning      bool  `json:"reasoning,omitempty"`
	ThinkingBudget int64 `json:"thinking_budget,omitempty"`
	// CacheSystem marks the system block as cacheable across chunks.
	CacheSystem bool `json:"cache_system,omitempty"`
}

// RawResponse is the model output before interpretation. Either channel may
// be empty depending on model class.
type RawResponse struct {
	Reasoning  string     `json:"reasoning,omitempty"`
	Answer     string     `json:"answer,omitempty"`
	Truncated  bool       `json:"truncated"`
	StopReason string     `json:"stop_reason,omitempty"`
	Model      string     `json:"model,omitempty"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption and estimated cost.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}
