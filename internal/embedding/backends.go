package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// BackendConfig describes one embedding backend.
type BackendConfig struct {
	Kind   string `mapstructure:"kind" yaml:"kind"` // service | openai | ollama
	URL    string `mapstructure:"url" yaml:"url"`
	Model  string `mapstructure:"model" yaml:"model"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// NewBackend builds a backend from its config.
func NewBackend(cfg BackendConfig, dims int, timeout time.Duration) (Backend, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch cfg.Kind {
	case "", "service":
		if cfg.URL == "" {
			return nil, fmt.Errorf("service backend needs a url")
		}
		return NewHTTPBackend(cfg.URL, timeout), nil
	case "openai":
		return NewOpenAIBackend(cfg.URL, cfg.APIKey, cfg.Model, dims), nil
	case "ollama":
		b, err := NewOllamaBackend(cfg.URL, cfg.Model, timeout)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Kind)
	}
}

// --- Embedding service ---

// HTTPBackend calls a plain embedding service: POST {"input": text} and a
// response carrying either "embedding" or "vector".
type HTTPBackend struct {
	url    string
	client *http.Client
}

type serviceRequest struct {
	Input string `json:"input"`
}

type serviceResponse struct {
	Embedding []float32 `json:"embedding"`
	Vector    []float32 `json:"vector"`
}

// NewHTTPBackend creates a backend for the service at url.
func NewHTTPBackend(url string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{url: url, client: &http.Client{Timeout: timeout}}
}

func (b *HTTPBackend) Name() string { return "service:" + b.url }

func (b *HTTPBackend) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(serviceRequest{Input: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed service error %d: %s", resp.StatusCode, string(msg))
	}

	var result serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embedding) > 0 {
		return result.Embedding, nil
	}
	if len(result.Vector) > 0 {
		return result.Vector, nil
	}
	return nil, fmt.Errorf("no embedding returned")
}

// --- OpenAI-compatible ---

// OpenAIBackend uses any OpenAI-compatible embedding API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIBackend creates an OpenAI-compatible backend. An empty baseURL
// targets api.openai.com.
func NewOpenAIBackend(baseURL, apiKey, model string, dims int) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model, dims: dims}
}

func (b *OpenAIBackend) Name() string { return "openai:" + b.model }

func (b *OpenAIBackend) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(b.model),
		Dimensions: b.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

// --- Ollama ---

// OllamaBackend uses a local Ollama instance.
type OllamaBackend struct {
	client *ollama.Client
	model  string
}

// NewOllamaBackend creates an Ollama backend. all-minilm produces 384 dims.
func NewOllamaBackend(host, model string, timeout time.Duration) (*OllamaBackend, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if model == "" {
		model = "all-minilm"
	}
	cli := ollama.NewClient(u, &http.Client{Timeout: timeout})
	return &OllamaBackend{client: cli, model: model}, nil
}

func (b *OllamaBackend) Name() string { return "ollama:" + b.model }

func (b *OllamaBackend) Embed(ctx context.Context, text string) (Vector, error) {
	res, err := b.client.Embed(ctx, &ollama.EmbedRequest{Model: b.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return res.Embeddings[0], nil
}
