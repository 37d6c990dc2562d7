// Package anthropic is a thin adapter over the Anthropic Messages API with
// request and response types the extractor owns.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client is the subset of the Messages API the extractor calls.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
	// StreamMessage streams a message and accumulates it. When the stream
	// breaks off, the content received so far is returned with the error.
	StreamMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by anthropic-sdk-go. SDK retries are
// disabled; callers retry through their own policy.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	return &sdkClient{client: sdk.NewClient(append(base, opts...)...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	msg, err := c.client.Messages.New(ctx, req.params())
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return newMessageResponse(msg), nil
}

func (c *sdkClient) StreamMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	stream := c.client.Messages.NewStreaming(ctx, req.params())
	defer stream.Close() //nolint:errcheck

	var msg sdk.Message
	for stream.Next() {
		if err := msg.Accumulate(stream.Current()); err != nil {
			return newMessageResponse(&msg), eris.Wrap(err, "anthropic: accumulate stream")
		}
	}
	if err := stream.Err(); err != nil {
		return newMessageResponse(&msg), eris.Wrap(err, "anthropic: stream message")
	}
	return newMessageResponse(&msg), nil
}

func (r MessageRequest) params() sdk.MessageNewParams {
	p := sdk.MessageNewParams{
		Model:     sdk.Model(r.Model),
		MaxTokens: r.MaxTokens,
		Messages:  make([]sdk.MessageParam, 0, len(r.Messages)),
	}
	for _, m := range r.Messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			p.Messages = append(p.Messages, sdk.NewAssistantMessage(block))
		} else {
			p.Messages = append(p.Messages, sdk.NewUserMessage(block))
		}
	}
	for _, b := range r.System {
		p.System = append(p.System, b.param())
	}

	switch {
	case r.ThinkingBudget > 0:
		p.Thinking = sdk.ThinkingConfigParamOfEnabled(r.ThinkingBudget)
	case r.Temperature != nil:
		p.Temperature = sdk.Float(*r.Temperature)
	}
	return p
}

func (b SystemBlock) param() sdk.TextBlockParam {
	out := sdk.TextBlockParam{Text: b.Text}
	if b.CacheControl != nil {
		out.CacheControl = sdk.NewCacheControlEphemeralParam()
		if b.CacheControl.TTL != "" {
			out.CacheControl.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
		}
	}
	return out
}

func newMessageResponse(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Content:      make([]ContentBlock, 0, len(msg.Content)),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text, Thinking: b.Thinking})
	}
	return resp
}
