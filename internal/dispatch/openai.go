package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"

	"github.com/leonardotrapani/callscribe/internal/conversation"
)

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional, for compatible endpoints
	Model        string
	SystemPrompt string
}

// OpenAIDispatcher sends each batch as the user message of a chat completion
// and returns the assistant reply as the response.
type OpenAIDispatcher struct {
	client *openai.Client
	config OpenAIConfig
	logger *log.Logger
}

func NewOpenAIDispatcher(config OpenAIConfig, logger *log.Logger) *OpenAIDispatcher {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = log.Default()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIDispatcher{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger.WithPrefix("dispatch-openai"),
	}
}

func (d *OpenAIDispatcher) Dispatch(ctx context.Context, batch conversation.Batch) (Result, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if d.config.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: d.config.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: batch.Text()})

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.config.Model,
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		de := &DispatchError{Err: fmt.Errorf("openai chat completion: %w", err)}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			de.StatusCode = apiErr.HTTPStatusCode
		}
		return Result{}, de
	}
	if len(resp.Choices) == 0 {
		return Result{}, &DispatchError{Err: fmt.Errorf("openai chat completion: no response choices")}
	}

	d.logger.Debug("completion received", "batch", batch.ID, "model", resp.Model, "tokens", resp.Usage.TotalTokens)
	return Result{Response: resp.Choices[0].Message.Content}, nil
}
