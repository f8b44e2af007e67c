package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"babelbot/internal/ai/openai"
	logx "babelbot/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler, systemPrompt string) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := openai.New(openai.Config{
		APIKey:       "test-key",
		Endpoint:     srv.URL,
		SystemPrompt: systemPrompt,
	}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestRespondSendsPersonaHistoryAndPrompt(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  hi there  "}},
			},
		})
	})

	c := newTestClient(t, handler, "be friendly")
	out, err := c.Respond(context.Background(),
		[]openai.Message{{Role: "user", Content: "earlier"}}, "hello")
	require.NoError(t, err)
	require.Equal(t, "hi there", out)

	require.Equal(t, "gpt-3.5-turbo", got.Model)
	require.Len(t, got.Messages, 3)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "be friendly", got.Messages[0].Content)
	require.Equal(t, "earlier", got.Messages[1].Content)
	require.Equal(t, "hello", got.Messages[2].Content)
}

func TestRespondNoChoices(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	c := newTestClient(t, handler, "")
	_, err := c.Respond(context.Background(), nil, "hello")
	require.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "note.ogg", hdr.Filename)

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	})

	c := newTestClient(t, handler, "")
	out, err := c.Transcribe(context.Background(), []byte{0x4f, 0x67, 0x67}, "note.ogg")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestTranscribeServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	})

	c := newTestClient(t, handler, "")
	_, err := c.Transcribe(context.Background(), []byte{1}, "")
	require.Error(t, err)
}
