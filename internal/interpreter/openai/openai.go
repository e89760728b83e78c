// Package openai implements the Classifier interface using the OpenAI Chat
// Completions API in JSON mode.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/nadzzz/aura/internal/config"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter"
)

// Classifier uses the OpenAI API for intent classification.
type Classifier struct {
	client oai.Client
	model  string
}

// New creates a new OpenAI classifier from config. Extra request options
// are appended after the ones derived from cfg.
func New(cfg config.OpenAIConfig, opts ...option.RequestOption) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &Classifier{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Name returns the backend identifier.
func (c *Classifier) Name() string { return "openai" }

// Classify asks the chat model for a JSON prediction.
func (c *Classifier) Classify(ctx context.Context, text string, intents []intent.Spec) (*interpreter.Prediction, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(interpreter.SystemPrompt(intents)),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	p, err := interpreter.ParsePrediction(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	slog.Debug("openai classification complete", "intent", p.Intent, "slots", len(p.Slots))
	return p, nil
}

// Close is a no-op for the OpenAI classifier.
func (c *Classifier) Close() error { return nil }
