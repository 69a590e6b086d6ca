// Package transport sends an assembled prompt to the inference backend.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Message is one conversation turn as sent on the wire.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Pinned    bool   `json:"pinned,omitempty"`
}

// Request is the prompt handed to the backend: the selected context turns,
// the rendered context block and the live user input.
type Request struct {
	Messages []Message `json:"messages"`
	Context  string    `json:"context,omitempty"`
	Input    string    `json:"input"`
}

// Responder produces a reply for a request.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a responder.
type Config struct {
	Kind      string        `mapstructure:"kind" yaml:"kind"` // websocket | anthropic
	URL       string        `mapstructure:"url" yaml:"url"`
	Model     string        `mapstructure:"model" yaml:"model"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	MaxTokens int64         `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// New creates the configured responder.
func New(cfg Config, log zerolog.Logger) (Responder, error) {
	switch cfg.Kind {
	case "", "websocket":
		return NewWebSocket(cfg.URL, cfg.Timeout, log), nil
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}
