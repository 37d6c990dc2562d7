package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotate-cli/internal/cost"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
	"github.com/sells-group/annotate-cli/pkg/anthropic"
	"github.com/sells-group/annotate-cli/pkg/anthropic/mocks"
)

const haiku = "claude-haiku-4-5-20251001"

func chunkRequest() model.Request {
	return model.Request{
		System:      "catalog",
		Prompt:      "Text (part 1, 2 characters):\n<<<\n长江\n>>>",
		MaxTokens:   1024,
		Temperature: 0,
		CacheSystem: true,
	}
}

func TestAnthropic_Complete(t *testing.T) {
	client := mocks.NewMockClient(t)
	p := NewAnthropic(client, AnthropicOptions{Model: haiku, Costs: cost.NewCalculator(cost.DefaultRates())})

	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == haiku &&
			req.MaxTokens == 1024 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil && req.System[0].CacheControl.TTL == "5m" &&
			req.Messages[0].Role == "user" &&
			req.Temperature != nil && *req.Temperature == 0 &&
			req.ThinkingBudget == 0
	})).Return(&anthropic.MessageResponse{
		Model:      haiku,
		Content:    []anthropic.ContentBlock{{Type: "text", Text: `{"entities":[]}`}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 1_000_000},
	}, nil)

	raw, err := p.Complete(context.Background(), chunkRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, raw.Answer)
	assert.Empty(t, raw.Reasoning)
	assert.False(t, raw.Truncated)
	assert.Equal(t, haiku, raw.Model)
	assert.Equal(t, 1_000_000, raw.Usage.InputTokens)
	assert.InDelta(t, 1.0, raw.Usage.Cost, 1e-9)
	assert.Equal(t, NameAnthropic, p.Name())
}

func TestAnthropic_ThinkingAndTruncation(t *testing.T) {
	client := mocks.NewMockClient(t)
	p := NewAnthropic(client, AnthropicOptions{Model: haiku, Stream: true})

	req := chunkRequest()
	req.Reasoning = true
	req.ThinkingBudget = 4096

	client.On("StreamMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.ThinkingBudget == 4096 && r.MaxTokens == 4096+1024
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "thinking", Thinking: "checking rivers"},
			{Type: "text", Text: `{"entities":[{"text":"长`},
		},
		StopReason: "max_tokens",
	}, nil)

	raw, err := p.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "checking rivers", raw.Reasoning)
	assert.True(t, raw.Truncated)
	assert.Equal(t, haiku, raw.Model)
}

func TestAnthropic_TransientStatus(t *testing.T) {
	client := mocks.NewMockClient(t)
	p := NewAnthropic(client, AnthropicOptions{Model: haiku})

	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("anthropic: create message: 529 overloaded_error"))

	_, err := p.Complete(context.Background(), chunkRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider: anthropic complete")
	assert.True(t, resilience.IsTransient(err))
}

func TestAnthropic_RateLimitCarriesRetryAfter(t *testing.T) {
	client := mocks.NewMockClient(t)
	p := NewAnthropic(client, AnthropicOptions{Model: haiku})

	h := http.Header{}
	h.Set("Retry-After", "4")
	apiErr := &sdk.Error{StatusCode: http.StatusTooManyRequests, Response: &http.Response{Header: h}}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.Wrap(apiErr, "anthropic: create message"))

	_, err := p.Complete(context.Background(), chunkRequest())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 4*time.Second, resilience.RetryAfterHint(err))
}

func TestAnthropic_PartialOnTimeout(t *testing.T) {
	client := mocks.NewMockClient(t)
	p := NewAnthropic(client, AnthropicOptions{Model: haiku, Stream: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client.On("StreamMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"entities":[`}},
	}, context.Canceled)

	raw, err := p.Complete(ctx, chunkRequest())
	require.NoError(t, err)
	assert.True(t, raw.Truncated)
	assert.Equal(t, StopTimeout, raw.StopReason)
	assert.Equal(t, `{"entities":[`, raw.Answer)
}

func TestAnthropic_NoPartialWithoutOutput(t *testing.T) {
	client := mocks.NewMockClient(t)
	p := NewAnthropic(client, AnthropicOptions{Model: haiku, Stream: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client.On("StreamMessage", mock.Anything, mock.Anything).
		Return(&anthropic.MessageResponse{}, context.Canceled)

	raw, err := p.Complete(ctx, chunkRequest())
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnthropic_UncachedSystem(t *testing.T) {
	client := mocks.NewMockClient(t)
	p := NewAnthropic(client, AnthropicOptions{Model: haiku})

	req := chunkRequest()
	req.CacheSystem = false
	req.Model = "claude-sonnet-4-5-20250929"

	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "claude-sonnet-4-5-20250929" && len(r.System) == 1 && r.System[0].CacheControl == nil
	})).Return(&anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "{}"}}}, nil)

	_, err := p.Complete(context.Background(), req)
	require.NoError(t, err)
}
