// Package obcchat provides a top-level convenience entry point for creating
// a Building Code assistant with minimal boilerplate.
//
// Usage:
//
//	import obcchat "github.com/kmaurinjones/Ontario-Building-Code-Chat"
//
//	a, err := obcchat.New(obcchat.WithOpenAI("gpt-4o-mini"))
//	a, err := obcchat.New(obcchat.WithOpenAI("gpt-4o-mini"), obcchat.WithQdrant("http://localhost:6333"))
//	a, err := obcchat.New(obcchat.WithProvider(myProvider), obcchat.WithEmbedder(myEmbedder))
//
// This is a thin wrapper around [quick.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package obcchat

import (
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/quick"
)

// Option configures the assistant created by [New].
type Option = quick.Option

// Assistant is the conversational wrapper returned by [New].
type Assistant = quick.Assistant

// New creates a [quick.Assistant] with minimal configuration.
// At minimum, a provider must be specified via [WithOpenAI] or [WithProvider].
func New(opts ...Option) (*Assistant, error) {
	return quick.New(opts...)
}

// Re-export option shortcuts so callers never need to import quick/.

// WithProvider sets a pre-built LLM provider.
var WithProvider = quick.WithProvider

// WithEmbedder sets a pre-built embedding provider.
var WithEmbedder = quick.WithEmbedder

// WithOpenAI creates an OpenAI client. API key from OPENAI_API_KEY env.
var WithOpenAI = quick.WithOpenAI

// WithModel overrides the chat model name.
var WithModel = quick.WithModel

// WithAPIKey overrides the API key for provider shortcuts.
var WithAPIKey = quick.WithAPIKey

// WithQdrant points retrieval at a Qdrant instance.
var WithQdrant = quick.WithQdrant

// WithCollection sets the Qdrant collection name.
var WithCollection = quick.WithCollection

// WithVectorStore sets a pre-built vector store.
var WithVectorStore = quick.WithVectorStore

// WithSessionStore sets a custom session store.
var WithSessionStore = quick.WithSessionStore

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger
