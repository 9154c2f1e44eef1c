// Package llm wires the LLM service contract spec'd by the tool operation
// lifecycle engine ("complete(messages, model, options) -> string") to real
// provider SDKs.
package llm

import (
	"context"

	"github.com/arcway/toolops/pkg/models"
)

// Options carries the generation knobs the engine needs to control:
// temperature and max output tokens, per the external-interfaces contract.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// DefaultOptions returns conservative generation defaults.
func DefaultOptions() Options {
	return Options{Temperature: 0.7, MaxTokens: 1024}
}

// Client is the provider-agnostic completion contract. Implementations must
// not reorder concurrent calls — each call to Complete is independent and
// its result corresponds only to the messages passed to that call.
type Client interface {
	Complete(ctx context.Context, messages []models.Message, model string, opts Options) (string, error)
}

// ChatAdapter narrows a Client down to the toolops.ChatCompleter contract
// (no Options parameter) for normal-chat fallback, applying a fixed set of
// generation options to every call.
type ChatAdapter struct {
	Client  Client
	Options Options
}

// NewChatAdapter wraps client with opts, defaulting to DefaultOptions when
// opts is the zero value.
func NewChatAdapter(client Client, opts Options) *ChatAdapter {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	return &ChatAdapter{Client: client, Options: opts}
}

// Complete satisfies toolops.ChatCompleter.
func (a *ChatAdapter) Complete(ctx context.Context, messages []models.Message, model string) (string, error) {
	return a.Client.Complete(ctx, messages, model, a.Options)
}
