package domain

import "encoding/json"

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatMessage is the provider-agnostic chat message shape sent to the
// completion endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the JSON body of a single chat completion call.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// CompletionResponse carries the undecoded body of a successful completion
// call. Callers pick out the fields they need.
type CompletionResponse struct {
	Body json.RawMessage
}
