package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	extractorSystemPrompt = "You are a structured information extractor."
	// AnswerSystemPrompt frames answer generation over retrieved context.
	AnswerSystemPrompt = "You are a helpful medical assistant that answers questions based on the provided context."
)

// OpenAIClient implements repository.LLMClient with the chat completions
// API. baseURL may point at any compatible endpoint.
type OpenAIClient struct {
	client       openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIClient creates a chat client. Extra options are appended after
// the key and base URL.
func NewOpenAIClient(apiKey, baseURL, model string, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key must not be empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, opts...)

	return &OpenAIClient{
		client:       openai.NewClient(options...),
		model:        model,
		systemPrompt: extractorSystemPrompt,
	}, nil
}

// WithSystemPrompt returns a copy of c that sends prompt as the system
// message. An empty prompt sends none.
func (c *OpenAIClient) WithSystemPrompt(prompt string) *OpenAIClient {
	cp := *c
	cp.systemPrompt = prompt
	return &cp
}

// Generate runs one deterministic (temperature 0) chat turn.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	logger.Debug("sending request", "client", c.Name())

	msgs := []openai.ChatCompletionMessageParamUnion{}
	if c.systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(c.systemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    msgs,
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Name() string {
	return fmt.Sprintf("OpenAI (%s) [Cloud]", c.model)
}
