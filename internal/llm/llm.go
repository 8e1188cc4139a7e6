// Package llm provides the completion interface the agents reason
// through, with Anthropic and OpenAI-compatible implementations.
// Transient API failures are retried with exponential backoff inside
// the clients; callers see a single error per completion.
package llm

import "context"

// Client is the narrow surface the agents depend on: one system prompt,
// one user prompt, one text response.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// CompleteOptions holds per-call options.
type CompleteOptions struct {
	CacheControl bool
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl marks the system prompt cacheable on providers that
// support prompt caching. The system prompt carries the rendered schema
// and is identical across attempts, so caching it cuts cost on retries.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheControl = true
	}
}
