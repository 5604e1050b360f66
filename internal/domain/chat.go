package domain

// ChatMessage is the provider-agnostic chat message shape exchanged with
// the LLM integration and accepted on message-create calls.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
