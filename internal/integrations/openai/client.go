// Package openai wraps the Azure OpenAI chat-completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/sashabaranov/go-openai"

	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/domain"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/format"
)

const titlePrompt = "Summarize the conversation so far into a 4-word or less title. " +
	"Do not use any quotation marks or punctuation. " +
	"Do not include any other commentary or description."

// completionsAPI is the minimal go-openai surface required by Client.
// *oai.Client satisfies it; defined here for testability.
type completionsAPI interface {
	CreateChatCompletion(ctx context.Context, req oai.ChatCompletionRequest) (oai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req oai.ChatCompletionRequest) (*oai.ChatCompletionStream, error)
}

// Config holds the Azure OpenAI connection and generation settings.
type Config struct {
	Endpoint      string
	APIKey        string
	APIVersion    string
	Model         string
	SystemMessage string
	Temperature   float32
	MaxTokens     int
}

// Client is a focused Azure OpenAI client for chat completions and
// conversation-title generation.
type Client struct {
	api           completionsAPI
	model         string
	systemMessage string
	temperature   float32
	maxTokens     int
}

// NewClient builds a Client from Azure connection settings.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("openai: endpoint must not be empty")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	clientConfig := oai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		clientConfig.APIVersion = cfg.APIVersion
	}
	return newClient(oai.NewClientWithConfig(clientConfig), cfg)
}

func newClient(api completionsAPI, cfg Config) (*Client, error) {
	if api == nil {
		return nil, errors.New("openai: api must not be nil")
	}
	return &Client{
		api:           api,
		model:         cfg.Model,
		systemMessage: cfg.SystemMessage,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
	}, nil
}

// Chat requests a full completion for the given messages.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage) (format.Completion, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(messages))
	if err != nil {
		return format.Completion{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return format.Completion{}, errors.New("openai: completion returned no choices")
	}
	return format.FromChatCompletion(resp), nil
}

// ChatStream opens a streaming completion. The caller must Close the
// returned stream.
func (c *Client) ChatStream(ctx context.Context, messages []domain.ChatMessage) (*Stream, error) {
	req := c.buildRequest(messages)
	req.Stream = true
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: open completion stream: %w", err)
	}
	return &Stream{recv: stream}, nil
}

// GenerateTitle asks the model to compress the conversation's user turns
// into a short title. When the model call fails the most recent user
// message doubles as the title, matching the frontend's expectation that
// rename-on-create never hard-fails.
func (c *Client) GenerateTitle(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	var prompt []oai.ChatCompletionMessage
	lastUser := ""
	for _, m := range messages {
		if m.Role == "user" {
			prompt = append(prompt, oai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			lastUser = m.Content
		}
	}
	if len(prompt) == 0 {
		return "", errors.New("openai: no user messages to title")
	}
	prompt = append(prompt, oai.ChatCompletionMessage{Role: "user", Content: titlePrompt})

	resp, err := c.api.CreateChatCompletion(ctx, oai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    prompt,
		Temperature: 1,
		MaxTokens:   64,
	})
	if err != nil || len(resp.Choices) == 0 {
		return lastUser, nil
	}
	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	if title == "" {
		return lastUser, nil
	}
	return title, nil
}

func (c *Client) buildRequest(messages []domain.ChatMessage) oai.ChatCompletionRequest {
	converted := make([]oai.ChatCompletionMessage, 0, len(messages)+1)
	if c.systemMessage != "" {
		converted = append(converted, oai.ChatCompletionMessage{Role: "system", Content: c.systemMessage})
	}
	for _, m := range messages {
		converted = append(converted, oai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return oai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    converted,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

// chunkReceiver is the part of *oai.ChatCompletionStream the Stream
// wrapper consumes.
type chunkReceiver interface {
	Recv() (oai.ChatCompletionStreamResponse, error)
	Close() error
}

// Stream yields formatter chunks from a streaming completion. Recv
// returns io.EOF when the stream is exhausted.
type Stream struct {
	recv chunkReceiver
}

func (s *Stream) Recv() (format.Chunk, error) {
	resp, err := s.recv.Recv()
	if err != nil {
		return format.Chunk{}, err
	}
	return format.FromStreamChunk(resp), nil
}

func (s *Stream) Close() error {
	return s.recv.Close()
}
