// Package llm is an OpenAI-compatible chat completions client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// Client talks to any endpoint speaking the chat completions API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client

	mu    sync.Mutex
	stats Stats
}

// Stats tracks usage across calls.
type Stats struct {
	TotalCalls        int
	TotalInputTokens  int // estimated
	TotalOutputTokens int // estimated
}

// Options configures a Client.
type Options struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKeyEnv   string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var providers = map[string]struct {
	baseURL   string
	keyEnvVar string
}{
	"openai":   {"https://api.openai.com/v1", "OPENAI_API_KEY"},
	"deepseek": {"https://api.deepseek.com/v1", "DEEPSEEK_API_KEY"},
	"local":    {"http://localhost:11434/v1", ""},
}

func New(opts Options) (*Client, error) {
	p, ok := providers[opts.Provider]
	if !ok && opts.BaseURL == "" {
		return nil, fmt.Errorf("unknown provider: %s (set base_url for custom endpoints)", opts.Provider)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = p.baseURL
	}
	keyEnv := opts.APIKeyEnv
	if keyEnv == "" {
		keyEnv = p.keyEnvVar
	}

	var apiKey string
	if keyEnv != "" {
		apiKey = os.Getenv(keyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found. Set %s environment variable", keyEnv)
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Chat sends a chat completion request.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	return c.chat(ctx, messages, nil)
}

// ChatJSON asks the model to answer with a single JSON object.
func (c *Client) ChatJSON(ctx context.Context, messages []ChatMessage) (string, error) {
	return c.chat(ctx, messages, &responseFormat{Type: "json_object"})
}

func (c *Client) chat(ctx context.Context, messages []ChatMessage, format *responseFormat) (string, error) {
	inputChars := 0
	for _, msg := range messages {
		inputChars += len(msg.Content)
	}

	req := chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: format,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	output := chatResp.Choices[0].Message.Content

	// Rough token estimate: ~4 chars per token
	c.mu.Lock()
	c.stats.TotalCalls++
	c.stats.TotalInputTokens += inputChars / 4
	c.stats.TotalOutputTokens += len(output) / 4
	c.mu.Unlock()

	return output, nil
}

// GenerateWithSystem implements generation with a system prompt.
func (c *Client) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.Chat(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
}

// GenerateJSON is GenerateWithSystem constrained to a JSON object answer.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.ChatJSON(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
}

func (c *Client) ModelName() string {
	return c.model
}

// GetStats returns the current usage statistics.
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
