package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "claude-sonnet-4-5-20250929"

func newTestClient(baseURL string) Client {
	return NewClient("test-key", option.WithBaseURL(baseURL))
}

type (
	block map[string]any
	usage struct{ In, Out int }
)

// writeMessage answers with a complete non-streamed Messages API body.
func writeMessage(w http.ResponseWriter, id, stop string, u usage, content ...block) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          id,
		"type":        "message",
		"role":        "assistant",
		"model":       testModel,
		"content":     content,
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": u.In, "output_tokens": u.Out},
	})
}

// userRequest is a minimal single-turn request.
func userRequest(text string) MessageRequest {
	return MessageRequest{Model: testModel, MaxTokens: 1024, Messages: []Message{{Role: "user", Content: text}}}
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		writeMessage(w, "msg_test_001", "end_turn", usage{In: 10, Out: 5},
			block{"type": "text", "text": `{"entities": []}`})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), userRequest("Hello"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"entities": []}`, resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
}

func TestSDKClient_CreateMessage_ThinkingParams(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		writeMessage(w, "msg_think", "max_tokens", usage{In: 1, Out: 2},
			block{"type": "thinking", "thinking": "Scanning for laws.", "signature": "sig"},
			block{"type": "text", "text": "done"})
	}))
	defer ts.Close()

	temp := 0.0
	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:          testModel,
		MaxTokens:      4096,
		System:         BuildCachedSystemBlocks("catalog", "5m"),
		Messages:       []Message{{Role: "user", Content: "text"}},
		Temperature:    &temp,
		ThinkingBudget: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "Scanning for laws.", resp.Thinking())
	assert.Equal(t, "done", resp.Text())
	assert.Equal(t, "max_tokens", resp.StopReason)

	thinking, ok := body["thinking"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "enabled", thinking["type"])
	assert.EqualValues(t, 1024, thinking["budget_tokens"])
	assert.NotContains(t, body, "temperature")
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type": "error",
			"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "slow down",
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), userRequest("Hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.Equal(t, "3", ResponseHeader(err).Get("Retry-After"))
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(e), &head)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, e)
	}
}

func TestSDKClient_StreamMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"type":"message_start","message":{"id":"msg_stream","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-5-20250929","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Rivers: "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"长江."}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"{\"entities\":"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"[]}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":30}}`,
			`{"type":"message_stop"}`,
		)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.StreamMessage(context.Background(), userRequest("text"))
	require.NoError(t, err)
	assert.Equal(t, "msg_stream", resp.ID)
	assert.Equal(t, "Rivers: 长江.", resp.Thinking())
	assert.Equal(t, `{"entities":[]}`, resp.Text())
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestSDKClient_StreamMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.StreamMessage(context.Background(), userRequest("text"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: stream message")
	require.NotNil(t, resp)
	assert.Empty(t, resp.Text())
}
