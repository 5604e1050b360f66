package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/google/uuid"

	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/domain"
)

const (
	// isoTimestamp is fixed-width so that string comparison in
	// "order by c.updatedAt" stays chronological.
	isoTimestamp = "2006-01-02T15:04:05.000000"

	queryConversations = "SELECT * FROM c where c.userId = @userId and c.type='conversation' order by c.updatedAt %s"
	queryConversation  = "SELECT * FROM c where c.id = @conversationId and c.type='conversation' and c.userId = @userId"
	queryMessages      = "SELECT * FROM c WHERE c.conversationId = @conversationId AND c.type='message' AND c.userId = @userId ORDER BY c.timestamp ASC"
)

// SortOrder is the conversation listing sort direction.
type SortOrder string

const (
	SortAscending  SortOrder = "ASC"
	SortDescending SortOrder = "DESC"
)

// ErrNotFound is returned when a point read or single-item query matches
// no document in the caller's partition.
var ErrNotFound = errors.New("history: not found")

// containerAPI is the minimal Cosmos container interface required by Client.
// *azcosmos.ContainerClient satisfies it; defined here for testability.
type containerAPI interface {
	Read(ctx context.Context, o *azcosmos.ReadContainerOptions) (azcosmos.ContainerResponse, error)
	ReadItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	UpsertItem(ctx context.Context, partitionKey azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	DeleteItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	NewQueryItemsPager(query string, partitionKey azcosmos.PartitionKey, o *azcosmos.QueryOptions) *runtime.Pager[azcosmos.QueryItemsResponse]
}

// databaseAPI is the minimal Cosmos database interface required by Ensure.
type databaseAPI interface {
	Read(ctx context.Context, o *azcosmos.ReadDatabaseOptions) (azcosmos.DatabaseResponse, error)
}

// Client wraps the Cosmos container holding conversation and message
// documents, partitioned by userId.
type Client struct {
	database  databaseAPI
	container containerAPI

	endpoint       string
	databaseName   string
	containerName  string
	enableFeedback bool
}

// Option configures a Client.
type Option func(*Client)

// WithMessageFeedback enables the optional feedback field on newly
// created message documents.
func WithMessageFeedback(enabled bool) Option {
	return func(c *Client) {
		c.enableFeedback = enabled
	}
}

// New creates a Client over an already-constructed database and container
// API. Used directly by tests; production code goes through Connect.
func New(database databaseAPI, container containerAPI, endpoint, databaseName, containerName string, opts ...Option) (*Client, error) {
	if database == nil {
		return nil, errors.New("history: database api must not be nil")
	}
	if container == nil {
		return nil, errors.New("history: container api must not be nil")
	}
	if strings.TrimSpace(databaseName) == "" {
		return nil, errors.New("history: database name must not be empty")
	}
	if strings.TrimSpace(containerName) == "" {
		return nil, errors.New("history: container name must not be empty")
	}
	c := &Client{
		database:      database,
		container:     container,
		endpoint:      strings.TrimSpace(endpoint),
		databaseName:  databaseName,
		containerName: containerName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect builds a Client from a Cosmos endpoint and credential.
// Construction performs no I/O; call Ensure to verify the database and
// container actually exist.
func Connect(endpoint string, credential azcore.TokenCredential, databaseName, containerName string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("history: endpoint must not be empty")
	}
	if credential == nil {
		return nil, errors.New("history: credential must not be nil")
	}
	cosmosClient, err := azcosmos.NewClient(endpoint, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("history: invalid CosmosDB endpoint: %w", err)
	}
	return fromCosmosClient(cosmosClient, endpoint, databaseName, containerName, opts...)
}

// ConnectWithKey builds a Client authenticated with an account key.
func ConnectWithKey(endpoint, key, databaseName, containerName string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("history: endpoint must not be empty")
	}
	credential, err := azcosmos.NewKeyCredential(key)
	if err != nil {
		return nil, fmt.Errorf("history: invalid credentials: %w", err)
	}
	cosmosClient, err := azcosmos.NewClientWithKey(endpoint, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("history: invalid CosmosDB endpoint: %w", err)
	}
	return fromCosmosClient(cosmosClient, endpoint, databaseName, containerName, opts...)
}

func fromCosmosClient(cosmosClient *azcosmos.Client, endpoint, databaseName, containerName string, opts ...Option) (*Client, error) {
	database, err := cosmosClient.NewDatabase(databaseName)
	if err != nil {
		return nil, fmt.Errorf("history: invalid CosmosDB database name: %w", err)
	}
	container, err := database.NewContainer(containerName)
	if err != nil {
		return nil, fmt.Errorf("history: invalid CosmosDB container name: %w", err)
	}
	return New(database, container, endpoint, databaseName, containerName, opts...)
}

// Ensure verifies that the configured database and container are
// reachable with the configured credentials.
func (c *Client) Ensure(ctx context.Context) error {
	if _, err := c.database.Read(ctx, nil); err != nil {
		if statusCode(err) == 401 {
			return fmt.Errorf("history: invalid credentials for CosmosDB account %s: %w", c.endpoint, err)
		}
		return fmt.Errorf("history: CosmosDB database %s on account %s not found: %w", c.databaseName, c.endpoint, err)
	}
	if _, err := c.container.Read(ctx, nil); err != nil {
		return fmt.Errorf("history: CosmosDB container %s not found: %w", c.containerName, err)
	}
	return nil
}

// CreateConversation creates and upserts a new conversation document for
// the user.
func (c *Client) CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Conversation{}, errors.New("history: CreateConversation: userID is required")
	}
	now := nowUTC().Format(isoTimestamp)
	conversation := domain.Conversation{
		ID:        newUUID(),
		Type:      domain.TypeConversation,
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
		Title:     title,
	}
	if err := c.upsert(ctx, userID, conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("history: CreateConversation: %w", err)
	}
	return conversation, nil
}

// UpsertConversation inserts or replaces a conversation document by id.
func (c *Client) UpsertConversation(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error) {
	if conversation.ID == "" || conversation.UserID == "" {
		return domain.Conversation{}, errors.New("history: UpsertConversation: id and userId are required")
	}
	if err := c.upsert(ctx, conversation.UserID, conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("history: UpsertConversation: %w", err)
	}
	return conversation, nil
}

// DeleteConversation deletes a conversation document. A conversation
// that is already gone is not an error.
func (c *Client) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	pk := azcosmos.NewPartitionKeyString(userID)
	if _, err := c.container.ReadItem(ctx, pk, conversationID, nil); err != nil {
		if statusCode(err) == 404 {
			return nil
		}
		return fmt.Errorf("history: DeleteConversation read: %w", err)
	}
	if _, err := c.container.DeleteItem(ctx, pk, conversationID, nil); err != nil {
		return fmt.Errorf("history: DeleteConversation delete: %w", err)
	}
	return nil
}

// DeleteMessages deletes every message in a conversation and reports how
// many were removed.
func (c *Client) DeleteMessages(ctx context.Context, userID, conversationID string) (int, error) {
	messages, err := c.GetMessages(ctx, userID, conversationID)
	if err != nil {
		return 0, fmt.Errorf("history: DeleteMessages: %w", err)
	}
	pk := azcosmos.NewPartitionKeyString(userID)
	deleted := 0
	for _, message := range messages {
		if _, err := c.container.DeleteItem(ctx, pk, message.ID, nil); err != nil {
			return deleted, fmt.Errorf("history: DeleteMessages delete %s: %w", message.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// GetConversations lists the user's conversations ordered by updatedAt.
// A limit of zero or less disables pagination.
func (c *Client) GetConversations(ctx context.Context, userID string, limit int, sort SortOrder, offset int) ([]domain.Conversation, error) {
	if sort != SortAscending && sort != SortDescending {
		return nil, fmt.Errorf("history: GetConversations: invalid sort order %q", sort)
	}
	query := fmt.Sprintf(queryConversations, sort)
	if limit > 0 {
		query += fmt.Sprintf(" offset %d limit %d", offset, limit)
	}
	items, err := c.queryItems(ctx, userID, query, []azcosmos.QueryParameter{
		{Name: "@userId", Value: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("history: GetConversations query: %w", err)
	}

	conversations := make([]domain.Conversation, 0, len(items))
	for _, item := range items {
		var conversation domain.Conversation
		if err := json.Unmarshal(item, &conversation); err != nil {
			return nil, fmt.Errorf("history: GetConversations unmarshal: %w", err)
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

// GetConversation fetches a single conversation owned by the user, or
// ErrNotFound.
func (c *Client) GetConversation(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	items, err := c.queryItems(ctx, userID, queryConversation, []azcosmos.QueryParameter{
		{Name: "@conversationId", Value: conversationID},
		{Name: "@userId", Value: userID},
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("history: GetConversation query: %w", err)
	}
	if len(items) == 0 {
		return domain.Conversation{}, fmt.Errorf("history: GetConversation %s: %w", conversationID, ErrNotFound)
	}
	var conversation domain.Conversation
	if err := json.Unmarshal(items[0], &conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("history: GetConversation unmarshal: %w", err)
	}
	return conversation, nil
}

// CreateMessage upserts a message document with a caller-supplied id and
// bumps the parent conversation's updatedAt to the message timestamp.
// Returns ErrNotFound when the parent conversation does not exist.
func (c *Client) CreateMessage(ctx context.Context, id, conversationID, userID string, input domain.ChatMessage) (domain.Message, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Message{}, errors.New("history: CreateMessage: id is required")
	}
	now := nowUTC().Format(isoTimestamp)
	message := domain.Message{
		ID:             id,
		Type:           domain.TypeMessage,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ConversationID: conversationID,
		Role:           input.Role,
		Content:        input.Content,
	}
	if c.enableFeedback {
		empty := ""
		message.Feedback = &empty
	}

	if err := c.upsert(ctx, userID, message); err != nil {
		return domain.Message{}, fmt.Errorf("history: CreateMessage: %w", err)
	}

	conversation, err := c.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("history: CreateMessage: %w", err)
	}
	conversation.UpdatedAt = message.CreatedAt
	if _, err := c.UpsertConversation(ctx, conversation); err != nil {
		return domain.Message{}, fmt.Errorf("history: CreateMessage touch conversation: %w", err)
	}
	return message, nil
}

// UpdateMessageFeedback sets the feedback field on an existing message.
func (c *Client) UpdateMessageFeedback(ctx context.Context, userID, messageID, feedback string) (domain.Message, error) {
	pk := azcosmos.NewPartitionKeyString(userID)
	resp, err := c.container.ReadItem(ctx, pk, messageID, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.Message{}, fmt.Errorf("history: UpdateMessageFeedback %s: %w", messageID, ErrNotFound)
		}
		return domain.Message{}, fmt.Errorf("history: UpdateMessageFeedback read: %w", err)
	}
	var message domain.Message
	if err := json.Unmarshal(resp.Value, &message); err != nil {
		return domain.Message{}, fmt.Errorf("history: UpdateMessageFeedback unmarshal: %w", err)
	}
	message.Feedback = &feedback
	if err := c.upsert(ctx, userID, message); err != nil {
		return domain.Message{}, fmt.Errorf("history: UpdateMessageFeedback upsert: %w", err)
	}
	return message, nil
}

// GetMessages lists every message in a conversation in chronological
// order.
func (c *Client) GetMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	items, err := c.queryItems(ctx, userID, queryMessages, []azcosmos.QueryParameter{
		{Name: "@conversationId", Value: conversationID},
		{Name: "@userId", Value: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("history: GetMessages query: %w", err)
	}

	messages := make([]domain.Message, 0, len(items))
	for _, item := range items {
		var message domain.Message
		if err := json.Unmarshal(item, &message); err != nil {
			return nil, fmt.Errorf("history: GetMessages unmarshal: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (c *Client) upsert(ctx context.Context, userID string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if _, err := c.container.UpsertItem(ctx, azcosmos.NewPartitionKeyString(userID), raw, nil); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// queryItems drains a parameterized query scoped to the user's partition.
func (c *Client) queryItems(ctx context.Context, userID, query string, parameters []azcosmos.QueryParameter) ([][]byte, error) {
	pager := c.container.NewQueryItemsPager(query, azcosmos.NewPartitionKeyString(userID), &azcosmos.QueryOptions{
		QueryParameters: parameters,
	})
	var items [][]byte
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

var (
	newUUID = uuid.NewString
	nowUTC  = func() time.Time { return time.Now().UTC() }
)
