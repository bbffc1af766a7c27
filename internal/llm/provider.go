// Package llm defines the provider-agnostic interface for delegate model
// interactions. The REPL's llm_query() capability sends single-turn prompts
// through a Provider and returns the text response to the evaluated code.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request represents a conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens"
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// UserPrompt builds a single-turn user request, the shape used by the
// REPL's delegate queries.
func UserPrompt(prompt string) *Request {
	return &Request{Messages: []Message{{Role: RoleUser, Content: prompt}}}
}
