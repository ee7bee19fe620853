package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxRetries and backoffDelays mirror the teacher's schema_linker.go
// retry loop around llm.Call: two retries with increasing backoff before
// the call is reported as failed.
const maxRetries = 2

var backoffDelays = []time.Duration{1 * time.Second, 3 * time.Second}

// Gateway is a ports.LLMGateway over a langchaingo chat model, invoked at
// temperature zero for deterministic SQL generation and scoring (spec §6).
type Gateway struct {
	model    llms.Model
	fallback llms.Model // nil if no fallback is configured
}

// New creates a Gateway from config, constructing the active model (and,
// if present, the fallback model) via langchaingo's OpenAI-compatible
// client, the way the teacher's CreateLLM does.
func New(config ConfigFile) (*Gateway, error) {
	active, err := newModel(config.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to create active model: %w", err)
	}

	gw := &Gateway{model: active}
	if config.Fallback.ModelName != "" {
		fallback, err := newModel(config.Fallback)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback model: %w", err)
		}
		gw.fallback = fallback
	}
	return gw, nil
}

// NewFromModels builds a Gateway directly from already-constructed
// langchaingo models, bypassing config loading. fallback may be nil.
func NewFromModels(active, fallback llms.Model) *Gateway {
	return &Gateway{model: active, fallback: fallback}
}

func newModel(config ModelConfig) (llms.Model, error) {
	return openai.New(
		openai.WithModel(config.ModelName),
		openai.WithToken(config.Token),
		openai.WithBaseURL(config.BaseURL),
	)
}

// Invoke sends systemMessage and humanMessage as a two-message chat
// completion request and returns the model's text response. It retries
// the active model up to maxRetries times with backoff, then falls back
// to the configured fallback model once if the active model is still
// failing.
func (g *Gateway) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	text, err := callWithRetry(ctx, g.model, systemMessage, humanMessage)
	if err == nil {
		return text, nil
	}
	if g.fallback == nil {
		return "", err
	}
	return callWithRetry(ctx, g.fallback, systemMessage, humanMessage)
}

func callWithRetry(ctx context.Context, model llms.Model, systemMessage, humanMessage string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemMessage),
		llms.TextParts(llms.ChatMessageTypeHuman, humanMessage),
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		response, err := model.GenerateContent(ctx, messages, llms.WithTemperature(0))
		if err == nil && len(response.Choices) > 0 {
			return response.Choices[0].Content, nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("model returned no choices")
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoffDelays[attempt]):
			}
		}
	}
	return "", fmt.Errorf("llm call failed after %d attempts: %w", maxRetries+1, lastErr)
}
