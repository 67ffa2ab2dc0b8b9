package llm

import (
	"context"
	"errors"

	"pai-kb-go/internal/config"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completer 执行一次非流式的补全调用，用于查询分类与假设答案生成。
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type langchainCompleter struct {
	client      *openai.LLM
	temperature float64
}

// NewCompleter 基于 langchaingo 的 OpenAI 兼容实现创建 Completer。
func NewCompleter(cfg config.LLMConfig, modelName string) (Completer, error) {
	if modelName == "" {
		modelName = cfg.Model
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(modelName),
	)
	if err != nil {
		return nil, err
	}
	return &langchainCompleter{client: client, temperature: cfg.Generation.Temperature}, nil
}

func (c *langchainCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := c.client.GenerateContent(ctx, content, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from model")
	}
	return resp.Choices[0].Content, nil
}
