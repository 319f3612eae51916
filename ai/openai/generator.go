package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
// Requests are sent in JSON mode so the model is steered towards emitting a
// single JSON document.
type Generator struct {
	client      llms.Model
	temperature float64
	logger      *slog.Logger
}

// newGenerator is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.Token()),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating generation client: %w", core.ErrConfiguration, err)
	}

	return newGeneratorFromModel(client, config.Temperature), nil
}

func newGeneratorFromModel(model llms.Model, temperature float64) *Generator {
	return &Generator{
		client:      model,
		temperature: temperature,
		logger:      slog.Default().With("component", "openai-generator"),
	}
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate sends the prompt as a single user message and returns the content
// of the first choice.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
			},
		},
	}

	response, err := g.client.GenerateContent(ctx, content,
		llms.WithTemperature(g.temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", fmt.Errorf("%w: %w", core.ErrGeneration, err)
	}

	if len(response.Choices) < 1 {
		g.logger.Warn("no choices returned from model")
		return "", fmt.Errorf("%w: model returned no choices", core.ErrGeneration)
	}

	g.logger.Debug("generated content", "length", len(response.Choices[0].Content))
	return response.Choices[0].Content, nil
}
