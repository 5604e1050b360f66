package domain

const (
	TypeConversation = "conversation"
	TypeMessage      = "message"
)

// Conversation is a conversation document as stored in Cosmos DB.
// The partition key is UserID.
type Conversation struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
}

// Message is a single chat message document stored alongside its parent
// conversation in the same partition. Feedback is present (and initially
// empty) only when the message-feedback feature is enabled.
type Message struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	UserID         string  `json:"userId"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
	ConversationID string  `json:"conversationId"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	Feedback       *string `json:"feedback,omitempty"`
}
