package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaURL is Ollama's hosted endpoint.
const DefaultOllamaURL = "https://ollama.com"

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// Ollama talks to the /api/chat endpoint of a local or hosted Ollama server.
type Ollama struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOllama builds an Ollama client. The API key is sent as a bearer token
// when set, which the hosted service requires.
func NewOllama(cfg Config) *Ollama {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultOllamaURL
	}
	return &Ollama{
		client:  &http.Client{Timeout: timeout},
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Complete implements Completer.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	payload, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama chat returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
