package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const maxBatch = 100

type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
}

// Options configures an OpenAI-compatible embedder.
type Options struct {
	Model     string
	BaseURL   string
	APIKeyEnv string
	// Dimension overrides the dimension implied by the model name.
	Dimension int
	// RequestsPerSecond limits API calls. Zero disables the limit.
	RequestsPerSecond float64
	Timeout           time.Duration
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ModelDimension returns the output dimension of well-known models, or 0.
func ModelDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	}
	return 0
}

func NewOpenAIEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.APIKeyEnv == "" {
		opts.APIKeyEnv = "OPENAI_API_KEY"
	}
	return NewOpenAICompatibleEmbedder(opts)
}

func NewOllamaEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434/v1"
	}
	if opts.Model == "" {
		opts.Model = "nomic-embed-text"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	return newEmbedder("ollama", opts), nil
}

func NewOpenAICompatibleEmbedder(opts Options) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", opts.APIKeyEnv)
	}
	if opts.Model == "" {
		opts.Model = "text-embedding-3-small"
	}
	return newEmbedder(apiKey, opts), nil
}

func newEmbedder(apiKey string, opts Options) *OpenAIEmbedder {
	dimension := opts.Dimension
	if dimension == 0 {
		dimension = ModelDimension(opts.Model)
	}
	if dimension == 0 {
		dimension = 1536
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     opts.Model,
		baseURL:   opts.BaseURL,
		dimension: dimension,
		client:    &http.Client{Timeout: opts.Timeout},
		limiter:   limiter,
	}
}

// Embed returns one vector per text. Empty texts get a zero vector without
// an API call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if text == "" {
			embeddings[i] = make([]float32, e.dimension)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += maxBatch {
		end := start + maxBatch
		if end > len(pending) {
			end = len(pending)
		}
		idx := pending[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vectors, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			embeddings[i] = vectors[j]
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := embeddingRequest{
		Input: texts,
		Model: e.model,
	}
	if ModelDimension(e.model) != e.dimension {
		reqBody.Dimensions = e.dimension
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200]
		}
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", bodyPreview, err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			continue
		}
		if len(data.Embedding) != e.dimension {
			return nil, fmt.Errorf("model %s returned dimension %d, expected %d", e.model, len(data.Embedding), e.dimension)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("API returned no embedding for input %d", i)
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
