// Package provider abstracts the language-model backends the orchestrator
// generates responses with.
package provider

import "context"

// Message is one turn of conversation history sent to the model.
type Message struct {
	Role    string // "user", "assistant" or "system"
	Content string
}

// Options selects the model and carries the caller's key for one call.
type Options struct {
	ModelID string
	APIKey  string
}

// Provider generates assistant responses.
//
// Stream invokes onChunk for each token batch as it arrives; a non-nil error
// from onChunk aborts the generation. Cancelling ctx aborts either call.
type Provider interface {
	Chat(ctx context.Context, history []Message, opts Options) (string, error)
	Stream(ctx context.Context, history []Message, opts Options, onChunk func(chunk string) error) error
}
