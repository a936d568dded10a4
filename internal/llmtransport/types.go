// Package llmtransport implements the single chat-completion contract the
// core consumes from an external generative endpoint. Like the teacher's
// own OpenAI provider, this is a hand-rolled HTTP client rather than a
// vendored SDK — there is exactly one call shape to support, and owning it
// keeps cancellation, retries, and thinking-block handling uniform.
package llmtransport

import "strings"

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat is a JSON-mode hint passed to the endpoint.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

// Options configures one ChatCompletion call.
type Options struct {
	EnableThinking bool
	Stream         bool // accepted for interface parity; never set true internally
	ResponseFormat ResponseFormat
	Temperature    float64
	MaxTokens      int
}

// Completion is the transport's response: the visible text, an optional
// reasoning trace split out of a <think> span, and token usage if reported.
type Completion struct {
	Content      string
	Thinking     string
	PromptTokens int
	OutputTokens int
}

// SplitThinking extracts a single <think>...</think> span from content and
// returns the thinking text and the remainder with the span removed.
func SplitThinking(content string) (thinking, rest string) {
	const open, close = "<think>", "</think>"
	start := strings.Index(content, open)
	if start < 0 {
		return "", content
	}
	end := strings.Index(content[start:], close)
	if end < 0 {
		return "", content
	}
	end += start

	thinking = strings.TrimSpace(content[start+len(open) : end])
	rest = strings.TrimSpace(content[:start] + content[end+len(close):])
	return thinking, rest
}
