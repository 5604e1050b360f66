package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/domain"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/history"
)

const defaultListLimit = 25

// Store defines the conversation persistence operations consumed by the
// history service.
type Store interface {
	Ensure(ctx context.Context) error
	CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error)
	UpsertConversation(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	DeleteMessages(ctx context.Context, userID, conversationID string) (int, error)
	GetConversations(ctx context.Context, userID string, limit int, sort history.SortOrder, offset int) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, userID, conversationID string) (domain.Conversation, error)
	CreateMessage(ctx context.Context, id, conversationID, userID string, input domain.ChatMessage) (domain.Message, error)
	UpdateMessageFeedback(ctx context.Context, userID, messageID, feedback string) (domain.Message, error)
	GetMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error)
}

// TitleGenerator produces a short conversation title from its messages.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// HistoryService orchestrates conversation history operations on behalf
// of the HTTP layer.
type HistoryService struct {
	store  Store
	titles TitleGenerator
}

func NewHistoryService(store Store, titles TitleGenerator) (*HistoryService, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if titles == nil {
		return nil, errors.New("usecase: title generator must not be nil")
	}
	return &HistoryService{store: store, titles: titles}, nil
}

type AddUserMessageInput struct {
	UserID         string
	ConversationID string
	Message        domain.ChatMessage
}

type AddUserMessageOutput struct {
	Conversation domain.Conversation
	Message      domain.Message
	Created      bool
}

// AddUserMessage persists a user turn, creating the conversation with a
// generated title when no conversation id is supplied.
func (s *HistoryService) AddUserMessage(ctx context.Context, in AddUserMessageInput) (AddUserMessageOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return AddUserMessageOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if strings.TrimSpace(in.Message.Content) == "" {
		return AddUserMessageOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if in.Message.Role != "" && in.Message.Role != "user" {
		return AddUserMessageOutput{}, newError(ErrorInvalidInput, "last_message_not_user", nil)
	}
	message := domain.ChatMessage{Role: "user", Content: in.Message.Content}

	created := false
	var conversation domain.Conversation
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		title, err := s.titles.GenerateTitle(ctx, []domain.ChatMessage{message})
		if err != nil {
			return AddUserMessageOutput{}, newError(ErrorUpstream, "title_generation_error", err)
		}
		conversation, err = s.store.CreateConversation(ctx, userID, title)
		if err != nil {
			return AddUserMessageOutput{}, newError(ErrorInternal, "create_conversation_error", err)
		}
		conversationID = conversation.ID
		created = true
	}

	stored, err := s.store.CreateMessage(ctx, newUUID(), conversationID, userID, message)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return AddUserMessageOutput{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return AddUserMessageOutput{}, newError(ErrorInternal, "create_message_error", err)
	}

	if !created {
		conversation, err = s.store.GetConversation(ctx, userID, conversationID)
		if err != nil {
			return AddUserMessageOutput{}, newError(ErrorInternal, "get_conversation_error", err)
		}
	}

	return AddUserMessageOutput{Conversation: conversation, Message: stored, Created: created}, nil
}

type AddAssistantMessagesInput struct {
	UserID         string
	ConversationID string
	Messages       []domain.ChatMessage
}

// AddAssistantMessages persists the tool and assistant messages that
// complete a turn. The final message must be from the assistant.
func (s *HistoryService) AddAssistantMessages(ctx context.Context, in AddAssistantMessagesInput) ([]domain.Message, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if strings.TrimSpace(in.ConversationID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if len(in.Messages) == 0 {
		return nil, newError(ErrorInvalidInput, "no_messages", nil)
	}
	if in.Messages[len(in.Messages)-1].Role != "assistant" {
		return nil, newError(ErrorInvalidInput, "last_message_not_assistant", nil)
	}
	for _, m := range in.Messages {
		if m.Role != "assistant" && m.Role != "tool" {
			return nil, newError(ErrorInvalidInput, "unexpected_role_"+m.Role, nil)
		}
	}

	stored := make([]domain.Message, 0, len(in.Messages))
	for _, m := range in.Messages {
		msg, err := s.store.CreateMessage(ctx, newUUID(), in.ConversationID, in.UserID, m)
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				return nil, newError(ErrorNotFound, "conversation_not_found", err)
			}
			return nil, newError(ErrorInternal, "create_message_error", err)
		}
		stored = append(stored, msg)
	}
	return stored, nil
}

// RenameConversation replaces a conversation's title.
func (s *HistoryService) RenameConversation(ctx context.Context, userID, conversationID, title string) (domain.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_title", nil)
	}
	conversation, err := s.store.GetConversation(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return domain.Conversation{}, newError(ErrorInternal, "get_conversation_error", err)
	}
	conversation.Title = title
	updated, err := s.store.UpsertConversation(ctx, conversation)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "upsert_conversation_error", err)
	}
	return updated, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *HistoryService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if _, err := s.store.DeleteMessages(ctx, userID, conversationID); err != nil {
		return newError(ErrorInternal, "delete_messages_error", err)
	}
	if err := s.store.DeleteConversation(ctx, userID, conversationID); err != nil {
		return newError(ErrorInternal, "delete_conversation_error", err)
	}
	return nil
}

// DeleteAllConversations removes every conversation the user owns.
func (s *HistoryService) DeleteAllConversations(ctx context.Context, userID string) (int, error) {
	conversations, err := s.store.GetConversations(ctx, userID, 0, history.SortDescending, 0)
	if err != nil {
		return 0, newError(ErrorInternal, "list_conversations_error", err)
	}
	deleted := 0
	for _, conversation := range conversations {
		if err := s.DeleteConversation(ctx, userID, conversation.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// ClearMessages deletes a conversation's messages but keeps the
// conversation itself.
func (s *HistoryService) ClearMessages(ctx context.Context, userID, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if _, err := s.store.DeleteMessages(ctx, userID, conversationID); err != nil {
		return newError(ErrorInternal, "delete_messages_error", err)
	}
	return nil
}

// ListConversations pages through the user's conversations, most
// recently updated first.
func (s *HistoryService) ListConversations(ctx context.Context, userID string, offset int) ([]domain.Conversation, error) {
	conversations, err := s.store.GetConversations(ctx, userID, defaultListLimit, history.SortDescending, offset)
	if err != nil {
		return nil, newError(ErrorInternal, "list_conversations_error", err)
	}
	return conversations, nil
}

type ConversationDetail struct {
	Conversation domain.Conversation
	Messages     []domain.Message
}

// ReadConversation returns a conversation with its messages in
// chronological order.
func (s *HistoryService) ReadConversation(ctx context.Context, userID, conversationID string) (ConversationDetail, error) {
	if strings.TrimSpace(conversationID) == "" {
		return ConversationDetail{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	conversation, err := s.store.GetConversation(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return ConversationDetail{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return ConversationDetail{}, newError(ErrorInternal, "get_conversation_error", err)
	}
	messages, err := s.store.GetMessages(ctx, userID, conversationID)
	if err != nil {
		return ConversationDetail{}, newError(ErrorInternal, "get_messages_error", err)
	}
	return ConversationDetail{Conversation: conversation, Messages: messages}, nil
}

// UpdateMessageFeedback records user feedback on a single message.
func (s *HistoryService) UpdateMessageFeedback(ctx context.Context, userID, messageID, feedback string) (domain.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "missing_message_id", nil)
	}
	message, err := s.store.UpdateMessageFeedback(ctx, userID, messageID, feedback)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return domain.Message{}, newError(ErrorNotFound, "message_not_found", err)
		}
		return domain.Message{}, newError(ErrorInternal, "update_feedback_error", err)
	}
	return message, nil
}

// Ensure reports whether the backing store is reachable and correctly
// configured.
func (s *HistoryService) Ensure(ctx context.Context) error {
	if err := s.store.Ensure(ctx); err != nil {
		return newError(ErrorInternal, "cosmosdb_unavailable", err)
	}
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
