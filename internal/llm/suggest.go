package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Suggestion is the structured resource-allocation advice the
// dashboard shows on a container or pod card.
type Suggestion struct {
	Suggestions string `json:"suggestions"`
	Rationale   string `json:"rationale"`
}

// FallbackSuggestion is shown when the provider cannot be reached so
// the card never renders empty.
func FallbackSuggestion() Suggestion {
	return Suggestion{
		Suggestions: "Unable to retrieve AI suggestions. Review resource usage and configuration manually.",
		Rationale:   "The AI service is unavailable or misconfigured. Check server logs and API keys.",
	}
}

// SuggestInput carries the resource snapshot the advice is based on.
// Exactly one of ContainerConfig and PodConfig is set; the other is
// reported to the model as "N/A".
type SuggestInput struct {
	ContainerConfig string
	PodConfig       string
	Usage           string
}

type Suggester interface {
	Suggest(ctx context.Context, input SuggestInput, apiKey string) (Suggestion, error)
}

func suggestPrompt(input SuggestInput) string {
	containerConfig := input.ContainerConfig
	if containerConfig == "" {
		containerConfig = "N/A"
	}
	podConfig := input.PodConfig
	if podConfig == "" {
		podConfig = "N/A"
	}
	return fmt.Sprintf(
		"You are an expert DevOps assistant. Analyze the configuration and usage and return JSON with keys \"suggestions\" and \"rationale\".\nContainer Config: %s\nPod Config: %s\nUsage: %s",
		containerConfig, podConfig, input.Usage,
	)
}

// Suggest asks the model for resource-allocation advice as a JSON
// document and decodes it into a Suggestion.
func (g *Gemini) Suggest(ctx context.Context, input SuggestInput, apiKey string) (Suggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	body := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: suggestPrompt(input)}},
		}},
		GenerationConfig: geminiGenerationConfig{ResponseMimeType: "application/json"},
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
		return Suggestion{}, fmt.Errorf("gemini request failed: %w", err)
	}

	if !res.IsSuccess() {
		if out.Error != nil && out.Error.Message != "" {
			return Suggestion{}, fmt.Errorf("gemini error (%s): %s", out.Error.Status, out.Error.Message)
		}
		return Suggestion{}, fmt.Errorf("gemini returned status %s", res.Status())
	}

	if len(out.Candidates) == 0 {
		return Suggestion{}, fmt.Errorf("gemini returned no candidates")
	}

	var parts []string
	for _, part := range out.Candidates[0].Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	text := strings.Join(parts, " ")

	var suggestion Suggestion
	if err := json.Unmarshal([]byte(text), &suggestion); err != nil {
		return Suggestion{}, fmt.Errorf("parsing suggestion payload: %w", err)
	}
	return suggestion, nil
}
