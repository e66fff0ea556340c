// Package llm holds chat-completion clients used by the LLM extraction strategy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyResponse is returned when the service answers with no text.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completer sends chat messages to a model and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Provider names.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// New builds the Completer named by cfg.Provider.
func New(cfg Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOllama:
		return NewOllama(cfg), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an api key")
		}
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
