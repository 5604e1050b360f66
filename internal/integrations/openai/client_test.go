package openai

import (
	"context"
	"errors"
	"io"
	"testing"

	oai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/domain"
)

type fakeAPI struct {
	completionOut oai.ChatCompletionResponse
	completionErr error
	streamErr     error
	lastRequest   oai.ChatCompletionRequest
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req oai.ChatCompletionRequest) (oai.ChatCompletionResponse, error) {
	f.lastRequest = req
	return f.completionOut, f.completionErr
}

func (f *fakeAPI) CreateChatCompletionStream(_ context.Context, req oai.ChatCompletionRequest) (*oai.ChatCompletionStream, error) {
	f.lastRequest = req
	return nil, f.streamErr
}

func mustClient(t *testing.T, api *fakeAPI, cfg Config) *Client {
	t.Helper()
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	c, err := newClient(api, cfg)
	require.NoError(t, err)
	return c
}

func completionWith(content string) oai.ChatCompletionResponse {
	return oai.ChatCompletionResponse{
		ID:      "cmpl-1",
		Model:   "gpt-4o",
		Object:  "chat.completion",
		Choices: []oai.ChatCompletionChoice{{Message: oai.ChatCompletionMessage{Role: "assistant", Content: content}}},
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{APIKey: "key", Model: "gpt-4o"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "endpoint")

	_, err = NewClient(Config{Endpoint: "https://unit.openai.azure.com", Model: "gpt-4o"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")

	_, err = NewClient(Config{Endpoint: "https://unit.openai.azure.com", APIKey: "key"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestChat_HappyPath(t *testing.T) {
	api := &fakeAPI{completionOut: completionWith("hello there")}
	c := mustClient(t, api, Config{SystemMessage: "You are a helpful assistant.", Temperature: 0.2, MaxTokens: 800})

	completion, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "hello there", completion.Choices[0].Message.Content)

	require.Equal(t, "gpt-4o", api.lastRequest.Model)
	require.Equal(t, float32(0.2), api.lastRequest.Temperature)
	require.Equal(t, 800, api.lastRequest.MaxTokens)
	require.Len(t, api.lastRequest.Messages, 2)
	require.Equal(t, "system", api.lastRequest.Messages[0].Role)
	require.Equal(t, "You are a helpful assistant.", api.lastRequest.Messages[0].Content)
}

func TestChat_NoSystemMessage(t *testing.T) {
	api := &fakeAPI{completionOut: completionWith("ok")}
	c := mustClient(t, api, Config{})

	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, api.lastRequest.Messages, 1)
	require.Equal(t, "user", api.lastRequest.Messages[0].Role)
}

func TestChat_UpstreamError(t *testing.T) {
	api := &fakeAPI{completionErr: errors.New("429 too many requests")}
	c := mustClient(t, api, Config{})

	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat completion")
}

func TestChat_NoChoices(t *testing.T) {
	api := &fakeAPI{}
	c := mustClient(t, api, Config{})

	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestChatStream_OpenError(t *testing.T) {
	api := &fakeAPI{streamErr: errors.New("bad gateway")}
	c := mustClient(t, api, Config{})

	_, err := c.ChatStream(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "open completion stream")
	require.True(t, api.lastRequest.Stream)
}

func TestGenerateTitle_HappyPath(t *testing.T) {
	api := &fakeAPI{completionOut: completionWith("Trip Planning Help")}
	c := mustClient(t, api, Config{})

	title, err := c.GenerateTitle(context.Background(), []domain.ChatMessage{
		{Role: "user", Content: "help me plan a trip"},
		{Role: "assistant", Content: "sure, where to?"},
		{Role: "user", Content: "somewhere sunny"},
	})
	require.NoError(t, err)
	require.Equal(t, "Trip Planning Help", title)

	// Only user turns plus the title instruction reach the model.
	require.Len(t, api.lastRequest.Messages, 3)
	require.Equal(t, "help me plan a trip", api.lastRequest.Messages[0].Content)
	require.Equal(t, "somewhere sunny", api.lastRequest.Messages[1].Content)
	require.Contains(t, api.lastRequest.Messages[2].Content, "4-word or less title")
	require.Equal(t, float32(1), api.lastRequest.Temperature)
	require.Equal(t, 64, api.lastRequest.MaxTokens)
}

func TestGenerateTitle_FallsBackToLastUserMessage(t *testing.T) {
	api := &fakeAPI{completionErr: errors.New("deployment gone")}
	c := mustClient(t, api, Config{})

	title, err := c.GenerateTitle(context.Background(), []domain.ChatMessage{
		{Role: "user", Content: "what is cosmos db"},
	})
	require.NoError(t, err)
	require.Equal(t, "what is cosmos db", title)
}

func TestGenerateTitle_EmptyAnswerFallsBack(t *testing.T) {
	api := &fakeAPI{completionOut: completionWith("   ")}
	c := mustClient(t, api, Config{})

	title, err := c.GenerateTitle(context.Background(), []domain.ChatMessage{
		{Role: "user", Content: "hello?"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello?", title)
}

func TestGenerateTitle_NoUserMessages(t *testing.T) {
	c := mustClient(t, &fakeAPI{}, Config{})
	_, err := c.GenerateTitle(context.Background(), []domain.ChatMessage{{Role: "assistant", Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no user messages")
}

type fakeReceiver struct {
	chunks []oai.ChatCompletionStreamResponse
	idx    int
	closed bool
}

func (f *fakeReceiver) Recv() (oai.ChatCompletionStreamResponse, error) {
	if f.idx >= len(f.chunks) {
		return oai.ChatCompletionStreamResponse{}, io.EOF
	}
	chunk := f.chunks[f.idx]
	f.idx++
	return chunk, nil
}

func (f *fakeReceiver) Close() error {
	f.closed = true
	return nil
}

func TestStream_RecvConvertsChunks(t *testing.T) {
	recv := &fakeReceiver{chunks: []oai.ChatCompletionStreamResponse{{
		ID:      "chunk-1",
		Choices: []oai.ChatCompletionStreamChoice{{Delta: oai.ChatCompletionStreamChoiceDelta{Content: "hel"}}},
	}}}
	s := &Stream{recv: recv}

	chunk, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, "chunk-1", chunk.ID)
	require.Equal(t, "hel", chunk.Choices[0].Delta.Content)

	_, err = s.Recv()
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, s.Close())
	require.True(t, recv.closed)
}
