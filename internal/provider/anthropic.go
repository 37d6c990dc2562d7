package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/cost"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
	"github.com/sells-group/annotate-cli/pkg/anthropic"
)

const defaultThinkingBudget = 2048

// AnthropicOptions configure the Anthropic adapter.
type AnthropicOptions struct {
	// Model is used when a request does not name one.
	Model string
	// Stream uses the streaming endpoint so that a chunk timeout keeps the
	// output received so far.
	Stream   bool
	CacheTTL string
	Costs    *cost.Calculator
}

// Anthropic is a Provider backed by the Messages API.
type Anthropic struct {
	client anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(client anthropic.Client, opts AnthropicOptions) *Anthropic {
	if opts.CacheTTL == "" {
		opts.CacheTTL = "5m"
	}
	return &Anthropic{client: client, opts: opts}
}

// Name implements Provider.
func (a *Anthropic) Name() string { return NameAnthropic }

// Complete implements Provider.
func (a *Anthropic) Complete(ctx context.Context, req model.Request) (*model.RawResponse, error) {
	msgReq := a.messageRequest(req)

	call := a.client.CreateMessage
	if a.opts.Stream {
		call = a.client.StreamMessage
	}
	resp, err := call(ctx, msgReq)
	if err != nil {
		if resp != nil && partial(ctx, resp.Thinking(), resp.Text()) {
			raw := a.rawResponse(msgReq.Model, resp)
			raw.Truncated = true
			raw.StopReason = StopTimeout
			return raw, nil
		}
		return nil, resilience.FromResponse(
			eris.Wrap(err, "provider: anthropic complete"),
			anthropic.StatusCode(err), anthropic.ResponseHeader(err), time.Now(),
		)
	}

	raw := a.rawResponse(msgReq.Model, resp)
	zap.L().Debug("provider: anthropic usage",
		zap.String("model", raw.Model),
		zap.Int64("billed_tokens", resp.Usage.Billed()),
		zap.Int("cache_read_tokens", raw.Usage.CacheReadTokens),
		zap.Float64("estimated_cost_usd", raw.Usage.Cost),
	)
	return raw, nil
}

func (a *Anthropic) messageRequest(req model.Request) anthropic.MessageRequest {
	modelName := req.Model
	if modelName == "" {
		modelName = a.opts.Model
	}

	system := anthropic.BuildSystemBlocks(req.System)
	if req.CacheSystem && req.System != "" {
		system = anthropic.BuildCachedSystemBlocks(req.System, a.opts.CacheTTL)
	}

	temp := req.Temperature
	out := anthropic.MessageRequest{
		Model:       modelName,
		MaxTokens:   req.MaxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	}
	if req.Reasoning {
		budget := req.ThinkingBudget
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		out.ThinkingBudget = budget
		// The thinking budget is part of max_tokens; keep room for the answer.
		if out.MaxTokens <= budget {
			out.MaxTokens = budget + req.MaxTokens
		}
	}
	return out
}

func (a *Anthropic) rawResponse(requested string, resp *anthropic.MessageResponse) *model.RawResponse {
	modelName := resp.Model
	if modelName == "" {
		modelName = requested
	}
	usage := model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	usage.Cost = a.opts.Costs.Tokens(modelName, usage)

	return &model.RawResponse{
		Reasoning:  resp.Thinking(),
		Answer:     resp.Text(),
		Truncated:  resp.StopReason == "max_tokens",
		StopReason: resp.StopReason,
		Model:      modelName,
		Usage:      usage,
	}
}
