// Package format reshapes Azure OpenAI chat-completion payloads into the
// normalized response envelope consumed by the web frontend.
package format

import (
	"encoding/json"

	oai "github.com/sashabaranov/go-openai"
)

// Completion is the minimal wire shape of a full chat completion,
// including the "On Your Data" context extension the official SDK types
// do not carry.
type Completion struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Created int64              `json:"created"`
	Object  string             `json:"object"`
	Choices []CompletionChoice `json:"choices"`
}

type CompletionChoice struct {
	Message ProviderMessage `json:"message"`
}

// Chunk is the minimal wire shape of a streaming chat-completion chunk.
type Chunk struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Created int64         `json:"created"`
	Object  string        `json:"object"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Delta ProviderMessage `json:"delta"`
}

// ProviderMessage is a completion message or delta as sent by the
// provider. Context is raw JSON so citation payloads survive untouched.
type ProviderMessage struct {
	Role    string          `json:"role,omitempty"`
	Content string          `json:"content,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

// Response is the normalized envelope.
type Response struct {
	ID              string         `json:"id"`
	Model           string         `json:"model"`
	Created         int64          `json:"created"`
	Object          string         `json:"object"`
	Choices         []Choice       `json:"choices"`
	HistoryMetadata map[string]any `json:"history_metadata"`
}

type Choice struct {
	Messages []Message `json:"messages"`
}

// Message distinguishes tool output from assistant content. Exactly one
// of Content and Context is set.
type Message struct {
	Role    string          `json:"role"`
	Content string          `json:"content,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

type contextPayload struct {
	Messages []contextMessage `json:"messages"`
}

type contextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NonStreaming normalizes a full completion. messageID, when non-empty,
// overrides the provider's completion id. The second return value is
// false when the completion carries no usable content.
func NonStreaming(completion Completion, historyMetadata map[string]any, messageID string) (Response, bool) {
	resp := newEnvelope(completion.ID, completion.Model, completion.Created, completion.Object, historyMetadata, messageID)
	if len(completion.Choices) == 0 {
		return Response{}, false
	}

	message := completion.Choices[0].Message
	if len(message.Context) > 0 {
		var payload contextPayload
		if err := json.Unmarshal(message.Context, &payload); err == nil && len(payload.Messages) > 0 {
			for _, m := range payload.Messages {
				if m.Role == "tool" {
					resp.Choices[0].Messages = append(resp.Choices[0].Messages, Message{
						Role:    "tool",
						Content: m.Content,
					})
				}
			}
		} else {
			resp.Choices[0].Messages = append(resp.Choices[0].Messages, Message{
				Role:    "tool",
				Content: string(message.Context),
			})
		}
	}
	resp.Choices[0].Messages = append(resp.Choices[0].Messages, Message{
		Role:    "assistant",
		Content: message.Content,
	})
	return resp, true
}

// Streaming normalizes one streaming chunk. A tool message found in the
// delta context short-circuits the chunk; an assistant delta carrying a
// context yields the context instead of content.
func Streaming(chunk Chunk, historyMetadata map[string]any, messageID string) (Response, bool) {
	resp := newEnvelope(chunk.ID, chunk.Model, chunk.Created, chunk.Object, historyMetadata, messageID)
	if len(chunk.Choices) == 0 {
		return Response{}, false
	}

	delta := chunk.Choices[0].Delta
	if len(delta.Context) > 0 {
		var payload contextPayload
		if err := json.Unmarshal(delta.Context, &payload); err == nil && len(payload.Messages) > 0 {
			for _, m := range payload.Messages {
				if m.Role == "tool" {
					resp.Choices[0].Messages = append(resp.Choices[0].Messages, Message{
						Role:    "tool",
						Content: m.Content,
					})
					return resp, true
				}
			}
		}
		if delta.Role == "assistant" {
			resp.Choices[0].Messages = append(resp.Choices[0].Messages, Message{
				Role:    "assistant",
				Context: delta.Context,
			})
			return resp, true
		}
	}
	if delta.Content != "" {
		resp.Choices[0].Messages = append(resp.Choices[0].Messages, Message{
			Role:    "assistant",
			Content: delta.Content,
		})
		return resp, true
	}
	return Response{}, false
}

func newEnvelope(id, model string, created int64, object string, historyMetadata map[string]any, messageID string) Response {
	if messageID != "" {
		id = messageID
	}
	return Response{
		ID:              id,
		Model:           model,
		Created:         created,
		Object:          object,
		Choices:         []Choice{{Messages: []Message{}}},
		HistoryMetadata: historyMetadata,
	}
}

// FromChatCompletion adapts an official SDK completion response.
func FromChatCompletion(resp oai.ChatCompletionResponse) Completion {
	completion := Completion{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
		Object:  resp.Object,
	}
	for _, choice := range resp.Choices {
		completion.Choices = append(completion.Choices, CompletionChoice{
			Message: ProviderMessage{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
		})
	}
	return completion
}

// FromStreamChunk adapts an official SDK streaming chunk.
func FromStreamChunk(resp oai.ChatCompletionStreamResponse) Chunk {
	chunk := Chunk{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
		Object:  resp.Object,
	}
	for _, choice := range resp.Choices {
		chunk.Choices = append(chunk.Choices, ChunkChoice{
			Delta: ProviderMessage{
				Role:    choice.Delta.Role,
				Content: choice.Delta.Content,
			},
		})
	}
	return chunk
}
