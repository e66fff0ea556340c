// Package pubsub publishes flush notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Attributer lets a payload attach message attributes.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher publishes JSON payloads, creating one topic handle per topic ID.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New wraps an existing client. The caller owns the client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish marshals payload to JSON and waits for the server-assigned ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	if a, ok := payload.(Attributer); ok {
		msg.Attributes = a.Attributes()
	}

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Stop flushes and stops every topic handle.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.topics {
		t.Stop()
		delete(p.topics, id)
	}
}

func (p *Publisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[id]; ok {
		return t
	}
	t := p.client.Topic(id)
	p.topics[id] = t
	return t
}
