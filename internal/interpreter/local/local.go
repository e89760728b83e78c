// Package local implements the Classifier interface using a self-hosted
// model.
//
// It talks to Ollama's /api/generate endpoint or to any OpenAI-compatible
// /v1/chat/completions endpoint (Ollama, vLLM, llama.cpp server), choosing
// the request shape from the endpoint path.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nadzzz/aura/internal/config"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter"
)

// Classifier uses a self-hosted model for intent classification.
type Classifier struct {
	endpoint string
	model    string
	client   *http.Client
}

// New creates a new local classifier from config.
func New(cfg config.LocalConfig) *Classifier {
	model := cfg.Model
	if model == "" {
		model = "llama3.2:1b"
	}
	return &Classifier{
		endpoint: cfg.Endpoint,
		model:    model,
		client:   &http.Client{},
	}
}

// Name returns the backend identifier.
func (c *Classifier) Name() string { return "local" }

// Classify sends text and the intent catalogue to the local model.
func (c *Classifier) Classify(ctx context.Context, text string, intents []intent.Spec) (*interpreter.Prediction, error) {
	if c.endpoint == "" {
		return nil, errors.New("local model endpoint not configured")
	}
	systemPrompt := interpreter.SystemPrompt(intents)

	var reqBody map[string]any
	if strings.HasSuffix(c.endpoint, "/api/generate") {
		reqBody = map[string]any{
			"model":  c.model,
			"system": systemPrompt,
			"prompt": text,
			"stream": false,
			"format": "json",
			"options": map[string]any{
				"temperature": 0,
			},
		}
	} else {
		reqBody = map[string]any{
			"model": c.model,
			"messages": []map[string]string{
				{"role": "system", "content": systemPrompt},
				{"role": "user", "content": text},
			},
			"temperature":     0,
			"stream":          false,
			"response_format": map[string]string{"type": "json_object"},
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local model request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("local model failed (status %d): %s", resp.StatusCode, respBody)
	}

	respData, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading model response: %w", err)
	}

	content := extractContent(respData)
	if content == "" {
		return nil, errors.New("empty response from local model")
	}

	p, err := interpreter.ParsePrediction(content)
	if err != nil {
		return nil, err
	}
	slog.Debug("local classification complete", "intent", p.Intent, "slots", len(p.Slots))
	return p, nil
}

// Close is a no-op for the local classifier.
func (c *Classifier) Close() error { return nil }

func extractContent(data []byte) string {
	// OpenAI-compatible format: {"choices": [{"message": {"content": "..."}}]}
	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chatResp); err == nil && len(chatResp.Choices) > 0 {
		return chatResp.Choices[0].Message.Content
	}

	// Ollama format: {"response": "..."}
	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &ollamaResp); err == nil && ollamaResp.Response != "" {
		return ollamaResp.Response
	}

	return string(data)
}
