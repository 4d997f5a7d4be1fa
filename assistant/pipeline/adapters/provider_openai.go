package adapters

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

const defaultMaxNewTokens = 1024

// OpenAIProvider implements the Provider port against any OpenAI-compatible
// chat-completions endpoint. It makes the network call and nothing else:
// circuit gating and outcome recording are the orchestrator's job.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an adapter for the given endpoint. baseURL may
// be empty for the default OpenAI endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// buildRequest maps the port input onto the chat-completions request shape.
func (p *OpenAIProvider) buildRequest(in ports.PromptInput, opts ports.Options) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxNewTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(in.Messages)+1)
	if in.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: in.System,
		})
	}
	for _, m := range in.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}
}

// callContext applies the per-call timeout when configured.
func callContext(ctx context.Context, opts ports.Options) (context.Context, context.CancelFunc) {
	if opts.TimeoutMs > 0 {
		return context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
	}
	return ctx, func() {}
}

// Complete performs a synchronous chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	ctx, cancel := callContext(ctx, opts)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(in, opts))
	if err != nil {
		return ports.Completion{}, err
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return ports.Completion{
		Text: text,
		Usage: &ports.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream performs a streaming chat completion. The returned channel is
// closed when the backend finishes or the context is canceled; a transport
// failure mid-stream is delivered as the final chunk's Err.
func (p *OpenAIProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	ctx, cancel := callContext(ctx, opts)

	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(in, opts))
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan ports.CompletionChunk)
	go func() {
		defer cancel()
		defer close(out)
		defer stream.Close()

		// emit never blocks past cancellation, so an abandoned consumer
		// cannot leak this goroutine or the underlying connection.
		emit := func(c ports.CompletionChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ports.CompletionChunk{Done: true})
				return
			}
			if err != nil {
				emit(ports.CompletionChunk{Err: err})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if !emit(ports.CompletionChunk{DeltaText: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

// Ensure OpenAIProvider implements the Provider interface.
var _ ports.Provider = (*OpenAIProvider)(nil)
