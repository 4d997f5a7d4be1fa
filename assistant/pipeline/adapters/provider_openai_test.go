package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

func TestBuildRequest_MapsPromptInput(t *testing.T) {
	p := NewOpenAIProvider("key", "", "default-model")

	req := p.buildRequest(ports.PromptInput{
		System: "You are Dara.",
		Messages: []ports.PromptMessage{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
	}, ports.Options{Temperature: 0.2, TopP: 0.9})

	assert.Equal(t, "default-model", req.Model)
	assert.Equal(t, defaultMaxNewTokens, req.MaxTokens)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are Dara.", req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, float32(0.2), req.Temperature)
}

func TestBuildRequest_OptionOverrides(t *testing.T) {
	p := NewOpenAIProvider("key", "", "default-model")

	req := p.buildRequest(ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: "user", Content: "q"}},
	}, ports.Options{Model: "bigger-model", MaxNewTokens: 64})

	assert.Equal(t, "bigger-model", req.Model)
	assert.Equal(t, 64, req.MaxTokens)
	// No system message when System is empty.
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

func TestCallContext_AppliesTimeout(t *testing.T) {
	ctx, cancel := callContext(context.Background(), ports.Options{TimeoutMs: 50})
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 20*time.Millisecond)

	ctx, cancel = callContext(context.Background(), ports.Options{})
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestComplete_AgainstCompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "សួស្តី!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL+"/v1", "test-model")
	got, err := p.Complete(context.Background(), ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: "user", Content: "hello"}},
	}, ports.Options{})

	require.NoError(t, err)
	assert.Equal(t, "សួស្តី!", got.Text)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 12, got.Usage.PromptTokens)
	assert.Equal(t, 16, got.Usage.TotalTokens)
}

func TestStream_AgainstCompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk := `{"id":"c1","object":"chat.completion.chunk","model":"test-model","choices":[{"index":0,"delta":{"content":%q}}]}`
		fmt.Fprintf(w, "data: "+chunk+"\n\n", "Hello")
		fmt.Fprintf(w, "data: "+chunk+"\n\n", " world")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL+"/v1", "test-model")
	chunks, err := p.Stream(context.Background(), ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: "user", Content: "hello"}},
	}, ports.Options{})
	require.NoError(t, err)

	var full string
	var done bool
	for c := range chunks {
		require.NoError(t, c.Err)
		full += c.DeltaText
		done = c.Done
	}
	assert.Equal(t, "Hello world", full)
	assert.True(t, done)
}

func TestStream_AbandonedConsumerDoesNotBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 100; i++ {
			fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"x"}}]}`+"\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOpenAIProvider("test-key", srv.URL+"/v1", "test-model")
	chunks, err := p.Stream(ctx, ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: "user", Content: "hello"}},
	}, ports.Options{})
	require.NoError(t, err)

	// Read one chunk, then walk away. Cancellation must unblock the
	// producer goroutine and close the channel.
	<-chunks
	cancel()

	select {
	case _, ok := <-chunks:
		_ = ok
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not observe cancellation")
	}
}
