package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com"

const geminiTimeout = 50 * time.Second

// Gemini calls the Google Generative Language REST API. One client is
// shared across requests; the API key travels per call because callers
// may supply their own.
type Gemini struct {
	client *resty.Client
	model  string
}

func NewGemini(model string) *Gemini {
	return NewGeminiWithBaseURL(geminiBaseURL, model)
}

func NewGeminiWithBaseURL(baseURL, model string) *Gemini {
	return &Gemini{
		client: resty.New().SetBaseURL(baseURL),
		model:  model,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) Generate(ctx context.Context, messages []Message, apiKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		contents = append(contents, geminiContent{
			Role:  msg.Role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	body := geminiRequest{
		Contents:          contents,
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemInstruction}}},
		// Plain text keeps the reply compatible with every model in
		// the allow list; Markdown still comes through fine.
		GenerationConfig: geminiGenerationConfig{ResponseMimeType: "text/plain"},
	}

	var out geminiResponse
	res, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/v1beta/models/" + g.model + ":generateContent")
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if !res.IsSuccess() {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("gemini error (%s): %s", out.Error.Status, out.Error.Message)
		}
		return "", fmt.Errorf("gemini returned status %s", res.Status())
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked the prompt: %s", out.PromptFeedback.BlockReason)
	}

	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	candidate := out.Candidates[0]
	var parts []string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		reason := candidate.FinishReason
		if reason == "" {
			reason = "unknown"
		}
		return "", fmt.Errorf("gemini returned an empty reply (finish reason: %s)", reason)
	}

	return text, nil
}
