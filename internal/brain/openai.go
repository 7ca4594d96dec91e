package brain

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/openaicompat"
	"github.com/ent0n29/aspen/internal/stages"
)

type ChatConfig struct {
	Provider     string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

// ChatGenerator streams completions from an OpenAI-compatible chat endpoint.
type ChatGenerator struct {
	client *openai.Client
	cfg    ChatConfig
}

func NewChatGenerator(client *openai.Client, cfg ChatConfig) *ChatGenerator {
	if strings.TrimSpace(cfg.Provider) == "" {
		cfg.Provider = "openai"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &ChatGenerator{client: client, cfg: cfg}
}

func (g *ChatGenerator) Generate(ctx context.Context, history conversation.Snapshot, userText string) (stages.TextStream, error) {
	msgs := BuildMessages(g.cfg.SystemPrompt, history, userText)
	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Stream:      true,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, openaicompat.ClassifyError(g.cfg.Provider, err)
	}
	return &chatStream{stream: stream, provider: g.cfg.Provider}, nil
}

type chatStream struct {
	stream   *openai.ChatCompletionStream
	provider string
}

func (s *chatStream) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", openaicompat.ClassifyError(s.provider, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *chatStream) Close() error {
	s.stream.Close()
	return nil
}
