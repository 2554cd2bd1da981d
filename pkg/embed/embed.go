// Package embed provides Muninn's similarity provider: the injected
// capability that turns a concept label into a fixed-length embedding
// vector.
//
// The core engine treats embeddings as opaque — they exist only so the
// ingestion adapter can measure cosine similarity between concepts observed
// together and link them in the graph. Embedding failure is always
// survivable: a concept created without an embedding still decays and
// schedules normally, only its semantic linking degrades.
//
// Providers:
//   - OllamaEmbedder: Local Ollama server (default, no API key)
//   - OpenAIEmbedder: OpenAI-compatible endpoints (OpenAI, llama.cpp, vLLM)
//   - NullEmbedder: No-op for tests and embedding-disabled runs
//
// Wrap any provider with NewCached to memoize repeated labels — concept
// labels repeat constantly across observation batches, so the cache hit
// rate is high.
//
// Example:
//
//	embedder := embed.NewCached(embed.NewOllama(nil), 4096)
//	vec, err := embedder.Embed(ctx, "photosynthesis")
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable signals that the provider cannot produce embeddings at all
// (as opposed to a transient request failure).
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder generates embedding vectors for concept labels.
//
// Implementations must be safe for concurrent use; the ingestion adapter
// calls Embed outside the store lock, possibly from multiple producer
// pipelines at once.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimension.
	Dimensions() int

	// Model returns the model name.
	Model() string
}

// Config holds embedding provider configuration.
type Config struct {
	Provider   string        `yaml:"provider"`   // ollama, openai, none
	APIURL     string        `yaml:"api_url"`    // e.g. http://localhost:11434
	APIPath    string        `yaml:"api_path"`   // e.g. /api/embeddings
	APIKey     string        `yaml:"api_key"`    // OpenAI-compatible endpoints
	Model      string        `yaml:"model"`      // e.g. mxbai-embed-large
	Dimensions int           `yaml:"dimensions"` // expected vector size
	Timeout    time.Duration `yaml:"timeout"`    // request timeout
}

// DefaultOllamaConfig returns configuration for a local Ollama server with
// mxbai-embed-large (1024 dimensions).
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider:   "ollama",
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "mxbai-embed-large",
		Dimensions: 1024,
		Timeout:    30 * time.Second,
	}
}

// DefaultOpenAIConfig returns configuration for the OpenAI embeddings API
// with text-embedding-3-small (1536 dimensions). Also works against any
// OpenAI-compatible endpoint (llama.cpp, vLLM) with a dummy key.
func DefaultOpenAIConfig(apiKey string) *Config {
	return &Config{
		Provider:   "openai",
		APIURL:     "https://api.openai.com",
		APIPath:    "/v1/embeddings",
		APIKey:     apiKey,
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// OllamaEmbedder implements Embedder against a local Ollama server.
//
// Thread-safe; the underlying http.Client handles concurrent requests.
type OllamaEmbedder struct {
	config *Config
	client *http.Client
}

// NewOllama creates an Ollama embedder. If config is nil,
// DefaultOllamaConfig() is used.
func NewOllama(config *Config) *OllamaEmbedder {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	return &OllamaEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding for a single label.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := ollamaRequest{
		Model:  e.config.Model,
		Prompt: text,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.config.APIURL + e.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return ollamaResp.Embedding, nil
}

// EmbedBatch generates embeddings one request per text; Ollama has no batch
// endpoint.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = embedding
	}
	return results, nil
}

// Dimensions returns the expected embedding dimensions.
func (e *OllamaEmbedder) Dimensions() int { return e.config.Dimensions }

// Model returns the model name.
func (e *OllamaEmbedder) Model() string { return e.config.Model }

// OpenAIEmbedder implements Embedder against OpenAI-compatible endpoints.
//
// Thread-safe; the underlying http.Client handles concurrent requests.
type OpenAIEmbedder struct {
	config *Config
	client *http.Client
}

// NewOpenAI creates an OpenAI embedder. If config is nil,
// DefaultOpenAIConfig("") is used.
func NewOpenAI(config *Config) *OpenAIEmbedder {
	if config == nil {
		config = DefaultOpenAIConfig("")
	}
	return &OpenAIEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type openaiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates an embedding for a single label. Internally calls
// EmbedBatch with a single-element slice.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple labels in one API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openaiRequest{
		Model: e.config.Model,
		Input: texts,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.config.APIURL + e.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var openaiResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(openaiResp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(openaiResp.Data), len(texts))
	}
	results := make([][]float32, len(texts))
	for _, data := range openaiResp.Data {
		if data.Index < 0 || data.Index >= len(results) {
			return nil, fmt.Errorf("openai returned out-of-range index %d", data.Index)
		}
		results[data.Index] = data.Embedding
	}
	return results, nil
}

// Dimensions returns the expected embedding dimensions.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// Model returns the model name.
func (e *OpenAIEmbedder) Model() string { return e.config.Model }

// NullEmbedder is the no-op provider used when embedding is disabled.
// Every Embed call returns ErrUnavailable; the ingestion adapter treats
// this as the normal degraded path (nodes without embeddings).
type NullEmbedder struct{}

// NewNull creates a NullEmbedder.
func NewNull() *NullEmbedder { return &NullEmbedder{} }

// Embed always returns ErrUnavailable.
func (e *NullEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrUnavailable
}

// EmbedBatch always returns ErrUnavailable.
func (e *NullEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnavailable
}

// Dimensions returns 0; NullEmbedder produces no vectors.
func (e *NullEmbedder) Dimensions() int { return 0 }

// Model returns "none".
func (e *NullEmbedder) Model() string { return "none" }

// NewEmbedder creates an embedder from config.
//
// Supported providers: "ollama", "openai", "none" (or empty, which disables
// embedding and degrades linking gracefully).
func NewEmbedder(config *Config) (Embedder, error) {
	if config == nil {
		return NewNull(), nil
	}
	switch config.Provider {
	case "ollama":
		return NewOllama(config), nil
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAI(config), nil
	case "none", "":
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}
}
