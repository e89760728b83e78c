package local_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/aura/internal/config"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter/local"
)

func TestClassifyOllamaGenerate(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": `{"intent": "set_volume", "slots": {"level": 30}}`,
		})
	}))
	t.Cleanup(srv.Close)

	c := local.New(config.LocalConfig{Endpoint: srv.URL + "/api/generate", Model: "tiny"})
	p, err := c.Classify(context.Background(), "make it thirty", intent.Default().Specs())
	require.NoError(t, err)
	assert.Equal(t, "set_volume", p.Intent)
	assert.Equal(t, 30.0, p.Slots["level"])

	assert.Equal(t, "tiny", got["model"])
	assert.Equal(t, "make it thirty", got["prompt"])
	assert.Equal(t, "json", got["format"])
	assert.Contains(t, got["system"], "set_volume")
}

func TestClassifyChatCompletions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]string `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "user", body.Messages[1]["role"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{
				"message": map[string]any{"content": `{"intent": "mute_volume"}`},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	c := local.New(config.LocalConfig{Endpoint: srv.URL + "/v1/chat/completions"})
	p, err := c.Classify(context.Background(), "hush", intent.Default().Specs())
	require.NoError(t, err)
	assert.Equal(t, "mute_volume", p.Intent)
	assert.Equal(t, "local", c.Name())
}

func TestClassifyHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := local.New(config.LocalConfig{Endpoint: srv.URL + "/api/generate"})
	_, err := c.Classify(context.Background(), "hush", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestClassifyWithoutEndpoint(t *testing.T) {
	t.Parallel()

	_, err := local.New(config.LocalConfig{}).Classify(context.Background(), "hush", nil)
	assert.Error(t, err)
}
