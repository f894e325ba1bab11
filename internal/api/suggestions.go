package api

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"dockwatch/internal/llm"
	"dockwatch/pkg/api"
)

type SuggestionConfig struct {
	GeminiAPIKey string
	Models       []string
	DefaultModel string
}

// suggestionClient resolves model and credential for a suggestions
// call and degrades to the fallback advice on any provider failure,
// so the endpoint itself never fails on the model's account.
type suggestionClient struct {
	cfg SuggestionConfig

	// newSuggester is swapped out in tests.
	newSuggester func(model string) llm.Suggester
}

func newSuggestionClient(cfg SuggestionConfig) *suggestionClient {
	return &suggestionClient{
		cfg: cfg,
		newSuggester: func(model string) llm.Suggester {
			return llm.NewGemini(model)
		},
	}
}

func (c *suggestionClient) suggest(ctx context.Context, req api.SuggestionRequest, input llm.SuggestInput) api.Suggestion {
	model := req.Model
	if !slices.Contains(c.cfg.Models, model) {
		model = c.cfg.DefaultModel
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.cfg.GeminiAPIKey
	}
	if apiKey == "" {
		slog.Warn("resource suggestions unavailable", "error", "no API key configured")
		return fallbackSuggestion()
	}

	suggestion, err := c.newSuggester(model).Suggest(ctx, input, apiKey)
	if err != nil {
		slog.Warn("resource suggestions unavailable", "model", model, "error", err)
		return fallbackSuggestion()
	}
	return api.Suggestion{Suggestions: suggestion.Suggestions, Rationale: suggestion.Rationale}
}

func fallbackSuggestion() api.Suggestion {
	fallback := llm.FallbackSuggestion()
	return api.Suggestion{Suggestions: fallback.Suggestions, Rationale: fallback.Rationale}
}

// usageSummary renders metric series the way the suggestion prompt
// expects them: one line per resource, values joined with commas.
func usageSummary(cpu, memory []api.MetricPoint) string {
	return "CPU: " + joinValues(cpu) + "\nMemory: " + joinValues(memory)
}

func joinValues(points []api.MetricPoint) string {
	values := make([]string, 0, len(points))
	for _, point := range points {
		values = append(values, strconv.FormatFloat(point.Value, 'f', -1, 64))
	}
	return strings.Join(values, ", ")
}
