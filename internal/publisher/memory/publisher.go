// Package memory keeps published payloads in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records payloads instead of sending them.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish call return err. A nil err restores
// normal behaviour.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the payload and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the payloads published to topic, oldest first.
func (p *Publisher) Messages(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// All returns a copy of every recorded publish.
func (p *Publisher) All() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
