// Package handler exposes the conversation history API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/domain"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/format"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/usecase"
)

// principalHeader carries the authenticated user id injected by the
// hosting platform (EasyAuth). Token validation happens upstream.
const principalHeader = "X-Ms-Client-Principal-Id"

const ndjsonContentType = "application/json-lines"

// HistoryService is the conversation history surface consumed by the
// handler.
type HistoryService interface {
	AddUserMessage(ctx context.Context, in usecase.AddUserMessageInput) (usecase.AddUserMessageOutput, error)
	AddAssistantMessages(ctx context.Context, in usecase.AddAssistantMessagesInput) ([]domain.Message, error)
	RenameConversation(ctx context.Context, userID, conversationID, title string) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	DeleteAllConversations(ctx context.Context, userID string) (int, error)
	ClearMessages(ctx context.Context, userID, conversationID string) error
	ListConversations(ctx context.Context, userID string, offset int) ([]domain.Conversation, error)
	ReadConversation(ctx context.Context, userID, conversationID string) (usecase.ConversationDetail, error)
	UpdateMessageFeedback(ctx context.Context, userID, messageID, feedback string) (domain.Message, error)
	Ensure(ctx context.Context) error
}

// ChunkStream yields normalized completion chunks until io.EOF.
type ChunkStream interface {
	Recv() (format.Chunk, error)
	Close() error
}

// ChatStreamer opens streaming completions against the model provider.
type ChatStreamer interface {
	ChatStream(ctx context.Context, messages []domain.ChatMessage) (ChunkStream, error)
}

type Handler struct {
	history        HistoryService
	chat           ChatStreamer
	logger         *slog.Logger
	allowedOrigins []string
}

func NewHandler(history HistoryService, chat ChatStreamer, logger *slog.Logger, allowedOrigins []string) (*Handler, error) {
	if history == nil {
		return nil, errors.New("handler: history service must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat streamer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Handler{history: history, chat: chat, logger: logger, allowedOrigins: allowedOrigins}, nil
}

// Router assembles the HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", principalHeader},
	}))

	r.Get("/healthz", h.health)
	r.Post("/conversation", h.conversation)
	r.Route("/history", func(r chi.Router) {
		r.Post("/generate", h.generate)
		r.Post("/update", h.update)
		r.Post("/rename", h.rename)
		r.Post("/message_feedback", h.messageFeedback)
		r.Delete("/delete", h.delete)
		r.Delete("/delete_all", h.deleteAll)
		r.Post("/clear", h.clear)
		r.Get("/list", h.list)
		r.Post("/read", h.read)
		r.Get("/ensure", h.ensure)
	})
	return r
}

type chatRequest struct {
	ConversationID  string               `json:"conversation_id"`
	Messages        []domain.ChatMessage `json:"messages"`
	HistoryMetadata map[string]any       `json:"history_metadata"`
}

type conversationIDRequest struct {
	ConversationID string `json:"conversation_id"`
}

type renameRequest struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

type feedbackRequest struct {
	MessageID       string `json:"message_id"`
	MessageFeedback string `json:"message_feedback"`
}

type conversationListItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type messageItem struct {
	ID        string  `json:"id"`
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"createdAt"`
	Feedback  *string `json:"feedback,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ensure(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Ensure(r.Context()); err != nil {
		h.logger.Error("history store unavailable", "err", err)
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "CosmosDB is not configured or not working"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "CosmosDB is configured and working"})
}

// conversation streams a completion without touching history.
func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	h.streamCompletion(w, r, req.Messages, req.HistoryMetadata)
}

// generate persists the user turn and streams the model's reply with
// conversation metadata attached to every chunk.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	out, err := h.history.AddUserMessage(r.Context(), usecase.AddUserMessageInput{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Messages[len(req.Messages)-1],
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	metadata := map[string]any{
		"conversation_id": out.Conversation.ID,
		"title":           out.Conversation.Title,
		"date":            out.Conversation.CreatedAt,
	}
	h.streamCompletion(w, r, req.Messages, metadata)
}

func (h *Handler) streamCompletion(w http.ResponseWriter, r *http.Request, messages []domain.ChatMessage, metadata map[string]any) {
	stream, err := h.chat.ChatStream(r.Context(), messages)
	if err != nil {
		h.logger.Error("failed to open completion stream", "err", err)
		h.writeError(w, http.StatusBadGateway, "failed to reach the model deployment")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", ndjsonContentType)
	writer := format.NewStreamWriter(w)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.logger.Error("completion stream failed", "err", err)
			writer.WriteError(err)
			return
		}
		if resp, ok := format.Streaming(chunk, metadata, ""); ok {
			if err := writer.Write(resp); err != nil {
				h.logger.Warn("client dropped completion stream", "err", err)
				return
			}
		}
	}
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := h.history.AddAssistantMessages(r.Context(), usecase.AddAssistantMessagesInput{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Messages:       req.Messages,
	}); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conversation, err := h.history.RenameConversation(r.Context(), userID, req.ConversationID, req.Title)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, conversation)
}

func (h *Handler) messageFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := h.history.UpdateMessageFeedback(r.Context(), userID, req.MessageID, req.MessageFeedback); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message_id":       req.MessageID,
		"message_feedback": req.MessageFeedback,
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req conversationIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.history.DeleteConversation(r.Context(), userID, req.ConversationID); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message":         "Successfully deleted conversation and messages",
		"conversation_id": req.ConversationID,
	})
}

func (h *Handler) deleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	if _, err := h.history.DeleteAllConversations(r.Context(), userID); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully deleted all conversations and messages for user " + userID,
	})
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req conversationIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.history.ClearMessages(r.Context(), userID, req.ConversationID); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message":         "Successfully deleted messages in conversation",
		"conversation_id": req.ConversationID,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	conversations, err := h.history.ListConversations(r.Context(), userID, offset)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	items := make([]conversationListItem, 0, len(conversations))
	for _, c := range conversations {
		items = append(items, conversationListItem{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req conversationIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	detail, err := h.history.ReadConversation(r.Context(), userID, req.ConversationID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	items := make([]messageItem, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		items = append(items, messageItem{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Feedback:  m.Feedback,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": detail.Conversation.ID,
		"messages":        items,
	})
}

// principal extracts the platform-authenticated user id.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(principalHeader))
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "no authenticated user")
		return "", false
	}
	return userID, true
}

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		switch ucErr.Code {
		case usecase.ErrorInvalidInput:
			h.writeError(w, http.StatusBadRequest, ucErr.Reason)
			return
		case usecase.ErrorNotFound:
			h.writeError(w, http.StatusNotFound, ucErr.Reason)
			return
		case usecase.ErrorUpstream:
			h.logger.Error("upstream failure", "reason", ucErr.Reason, "err", ucErr.Err)
			h.writeError(w, http.StatusBadGateway, ucErr.Reason)
			return
		}
	}
	h.logger.Error("history operation failed", "err", err)
	h.writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "err", err)
	}
}
