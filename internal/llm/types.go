// Package llm defines the model provider interface and its implementations.
package llm

import (
	"context"
	"strings"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StopReason describes why the model stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
	JSONOutput   bool   // ask for a JSON object reply where the provider supports it
}

// CompletionResponse is returned by Complete(). Thinking holds reasoning
// content kept apart from Text so it is never parsed as actions.
type CompletionResponse struct {
	Text         string
	Thinking     string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is the abstraction for language model backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the current model identifier string.
	ModelID() string
}

// SplitThinking separates <think>…</think> blocks that some models inline
// into their text from the answer itself.
func SplitThinking(text string) (answer, thinking string) {
	const openTag, closeTag = "<think>", "</think>"
	var thoughts []string
	for {
		start := strings.Index(text, openTag)
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], closeTag)
		if end < 0 {
			thoughts = append(thoughts, strings.TrimSpace(text[start+len(openTag):]))
			text = text[:start]
			break
		}
		end += start
		thoughts = append(thoughts, strings.TrimSpace(text[start+len(openTag):end]))
		text = text[:start] + text[end+len(closeTag):]
	}
	return strings.TrimSpace(text), strings.Join(thoughts, "\n")
}
