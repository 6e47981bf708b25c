package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/config"
)

func newTestService(t *testing.T, routes map[string]config.ModelRoute) (*Service, *httptest.Server) {
	t.Helper()
	cfg := config.LLMGatewayConfig{}
	cfg.SetDefaults()
	cfg.Retry.MaxAttempts = 1
	cfg.Routes = routes

	svc := NewService(cfg, nil)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func TestChatCompletionsEndpoint(t *testing.T) {
	primary := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	fallback := fakeProvider(t, answerOK)
	_, srv := newTestService(t, map[string]config.ModelRoute{
		"primary-chat": {
			Primary:   route("openai", "gpt-4o-mini", primary.URL),
			Fallbacks: []config.ProviderRoute{route("anthropic", "claude-3-haiku", fallback.URL)},
		},
	})

	body := `{"model":"primary-chat","messages":[{"role":"user","content":"chung cư giá rẻ quận 9"}]}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"), "request id propagates back")

	var out struct {
		Model       string `json:"model"`
		ModelActual string `json:"model_actual"`
		Choices     []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "primary-chat", out.Model)
	assert.Equal(t, "anthropic/claude-3-haiku", out.ModelActual)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "Xin chào!", out.Choices[0].Message.Content)
}

func TestChatCompletionsValidation(t *testing.T) {
	_, srv := newTestService(t, map[string]config.ModelRoute{})

	resp, err := http.Post(srv.URL+"/chat/completions", "application/json", bytes.NewBufferString(`{"model":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "messages are required")
}

func TestChatCompletionsUnavailable(t *testing.T) {
	down := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, srv := newTestService(t, map[string]config.ModelRoute{
		"primary-chat": {Primary: route("openai", "gpt-4o-mini", down.URL)},
	})

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(srv.URL+"/chat/completions", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// The embeddings endpoint accepts both OpenAI input shapes: a bare
// string and an array of strings.
func TestEmbeddingsAcceptsStringInput(t *testing.T) {
	provider := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	})
	_, srv := newTestService(t, map[string]config.ModelRoute{
		"primary-embed": {Primary: route("openai", "text-embedding-ada-002", provider.URL)},
	})

	for _, body := range []string{
		`{"model":"primary-embed","input":"xin chào"}`,
		`{"model":"primary-embed","input":["xin chào"]}`,
	} {
		resp, err := http.Post(srv.URL+"/embeddings", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, body)

		var out struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Len(t, out.Data, 1)
		assert.Equal(t, []float32{0.1, 0.2}, out.Data[0].Embedding)
	}
}

func TestEmbeddingsRejectsBadInputShape(t *testing.T) {
	_, srv := newTestService(t, map[string]config.ModelRoute{})

	resp, err := http.Post(srv.URL+"/embeddings", "application/json",
		bytes.NewBufferString(`{"model":"primary-embed","input":42}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModelsEndpoint(t *testing.T) {
	_, srv := newTestService(t, map[string]config.ModelRoute{
		"primary-chat": {
			Primary:   route("openai", "gpt-4o-mini", "http://x"),
			Fallbacks: []config.ProviderRoute{route("ollama", "llama3.2", "http://y")},
		},
	})

	resp, err := http.Get(srv.URL + "/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Models, 1)
	assert.Equal(t, "primary-chat", out.Models[0].Tag)
	assert.Equal(t, []string{"ollama/llama3.2"}, out.Models[0].Fallbacks)
}

func TestGatewayClientRoundTrip(t *testing.T) {
	provider := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			answerOK(w, r)
		case "/embeddings":
			w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
		default:
			http.NotFound(w, r)
		}
	})
	_, srv := newTestService(t, map[string]config.ModelRoute{
		"primary-chat":  {Primary: route("openai", "gpt-4o-mini", provider.URL)},
		"primary-embed": {Primary: route("openai", "text-embedding-ada-002", provider.URL)},
	})

	client := NewGatewayClient(srv.URL)

	text, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "Xin chào!", text)

	vectors, err := client.Embed(context.Background(), []string{"biệt thự Đà Nẵng"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
}
