// Package provider adapts LLM backends to a single blocking completion call
// that returns both the reasoning and the answer channel.
package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/annotate-cli/internal/model"
)

// Provider completes one extraction request.
type Provider interface {
	// Name identifies the backend in logs and run records.
	Name() string
	// Complete sends req and waits for the full response. A response cut
	// off by ctx after some output arrived is returned as truncated with a
	// nil error.
	Complete(ctx context.Context, req model.Request) (*model.RawResponse, error)
}

// Provider names accepted by New.
const (
	NameAnthropic = "anthropic"
	NameOllama    = "ollama"
)

// ErrUnknownProvider is returned for an unsupported llm.provider value.
var ErrUnknownProvider = eris.New("unknown llm provider")

// StopTimeout is the stop reason recorded when a response was cut off by
// the chunk deadline.
const StopTimeout = "timeout"

// partial reports whether a failed call still produced usable output that
// should be handed on as a truncated response.
func partial(ctx context.Context, reasoning, answer string) bool {
	return ctx.Err() != nil && (reasoning != "" || answer != "")
}
