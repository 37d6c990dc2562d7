package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
)

// ChatClient is the subset of *api.Client used by the Ollama provider.
type ChatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// OllamaOptions configure the Ollama adapter.
type OllamaOptions struct {
	Model string
	// KeepAlive keeps the model loaded between chunks.
	KeepAlive string
}

// Ollama is a Provider backed by a local Ollama server's streaming chat
// endpoint. Thinking models stream their reasoning on a separate field.
type Ollama struct {
	client ChatClient
	opts   OllamaOptions
}

// NewOllama creates an Ollama provider.
func NewOllama(client ChatClient, opts OllamaOptions) *Ollama {
	return &Ollama{client: client, opts: opts}
}

// Name implements Provider.
func (o *Ollama) Name() string { return NameOllama }

// Complete implements Provider.
func (o *Ollama) Complete(ctx context.Context, req model.Request) (*model.RawResponse, error) {
	chatReq := o.chatRequest(req)

	var reasoning, answer strings.Builder
	raw := &model.RawResponse{Model: chatReq.Model}
	err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		reasoning.WriteString(resp.Message.Thinking)
		answer.WriteString(resp.Message.Content)
		if resp.Done {
			raw.StopReason = resp.DoneReason
			raw.Usage.InputTokens = resp.PromptEvalCount
			raw.Usage.OutputTokens = resp.EvalCount
			if resp.Model != "" {
				raw.Model = resp.Model
			}
		}
		return nil
	})
	raw.Reasoning = reasoning.String()
	raw.Answer = answer.String()

	if err != nil {
		if partial(ctx, raw.Reasoning, raw.Answer) {
			raw.Truncated = true
			raw.StopReason = StopTimeout
			return raw, nil
		}
		var statusErr api.StatusError
		status := 0
		if errors.As(err, &statusErr) {
			status = statusErr.StatusCode
		}
		return nil, resilience.FromStatus(eris.Wrap(err, "provider: ollama chat"), status)
	}

	raw.Truncated = raw.StopReason == "length"
	zap.L().Debug("ollama chat complete",
		zap.String("model", raw.Model),
		zap.String("done_reason", raw.StopReason),
		zap.Int("prompt_tokens", raw.Usage.InputTokens),
		zap.Int("eval_tokens", raw.Usage.OutputTokens),
	)
	return raw, nil
}

func (o *Ollama) chatRequest(req model.Request) *api.ChatRequest {
	modelName := req.Model
	if modelName == "" {
		modelName = o.opts.Model
	}

	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	stream := true
	out := &api.ChatRequest{
		Model:    modelName,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.Reasoning {
		think := true
		out.Think = &think
	}
	if o.opts.KeepAlive != "" {
		if d, err := parseKeepAlive(o.opts.KeepAlive); err == nil {
			out.KeepAlive = d
		}
	}
	return out
}

func parseKeepAlive(s string) (*api.Duration, error) {
	var d api.Duration
	if err := d.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		return nil, eris.Wrapf(err, "provider: parse keep_alive %q", s)
	}
	return &d, nil
}
