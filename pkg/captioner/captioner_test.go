package captioner

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	N           int     `json:"n"`
	Messages    []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func newServer(t *testing.T, choices string, captured *chatRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":` + choices + `}`))
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"` + DefaultModel + `","object":"model","created":0,"owned_by":"local"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCaptionSendsImageAndBoundedDecoding(t *testing.T) {
	var req chatRequest
	srv := newServer(t, `[{"index":0,"message":{"role":"assistant","content":"A sunny beach"},"finish_reason":"stop"}]`, &req)
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1/"})

	caption, err := c.Caption(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)), Instruction, 0)
	require.NoError(t, err)

	assert.Equal(t, "A sunny beach", caption)
	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, 1, req.N)
	assert.Less(t, req.Temperature, 0.001)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content[0].ImageURL.URL, "data:image/jpeg;base64,"))
	assert.Equal(t, Instruction, req.Messages[0].Content[1].Text)
}

func TestCaptionHonoursMaxTokens(t *testing.T) {
	var req chatRequest
	srv := newServer(t, `[{"index":0,"message":{"role":"assistant","content":"x"}}]`, &req)
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "custom"})

	_, err := c.Caption(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)), Instruction, 24)
	require.NoError(t, err)
	assert.Equal(t, 24, req.MaxTokens)
	assert.Equal(t, "custom", req.Model)
}

func TestCaptionNoChoices(t *testing.T) {
	var req chatRequest
	srv := newServer(t, `[]`, &req)
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1"})

	_, err := c.Caption(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)), Instruction, 0)
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestCaptionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model crashed","type":"server_error"}}`))
	}))
	defer srv.Close()
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1"})

	_, err := c.Caption(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)), Instruction, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestReady(t *testing.T) {
	var req chatRequest
	srv := newServer(t, `[]`, &req)

	assert.NoError(t, NewOpenAI(Config{BaseURL: srv.URL + "/v1"}).Ready(context.Background()))
	assert.ErrorIs(t, NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "other"}).Ready(context.Background()), ErrModelNotServed)
}

func TestReadyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.Error(t, NewOpenAI(Config{BaseURL: url + "/v1"}).Ready(context.Background()))
}
