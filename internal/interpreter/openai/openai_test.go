package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/aura/internal/config"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter/openai"
)

func chatServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify(t *testing.T) {
	t.Parallel()

	var seen map[string]any
	srv := chatServer(t, `{"intent": "search_web", "slots": {"query": "salt and pepper"}}`, &seen)

	c, err := openai.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	p, err := c.Classify(context.Background(), "look for salt and pepper", intent.Default().Specs())
	require.NoError(t, err)
	assert.Equal(t, "search_web", p.Intent)
	assert.Equal(t, "salt and pepper", p.Slots["query"])

	assert.Equal(t, "gpt-4o-mini", seen["model"])
	format, _ := seen["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestClassifyRejectsGarbage(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "sorry, I cannot help", nil)
	c, err := openai.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "hmm", nil)
	assert.Error(t, err)
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := openai.New(config.OpenAIConfig{})
	assert.Error(t, err)
}
