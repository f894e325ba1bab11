package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openaiTimeout = 50 * time.Second

// OpenAI serves the gpt-* entries of the model allow list.
type OpenAI struct {
	model string
}

func NewOpenAI(model string) *OpenAI {
	return &OpenAI{model: model}
}

func (o *OpenAI) Generate(ctx context.Context, msgs []Message, apiKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, openaiTimeout)
	defer cancel()

	client := openai.NewClient(option.WithAPIKey(apiKey))

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	messages = append(messages, openai.SystemMessage(systemInstruction))
	for _, msg := range msgs {
		if msg.Role == "model" {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		} else {
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	res, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    o.model,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}

	if len(res.Choices) == 0 || res.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned an empty reply")
	}

	return res.Choices[0].Message.Content, nil
}
