// Package search builds security filter expressions for an Azure AI
// Search index from directory group membership.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/integrations/graph"
)

// GroupFetcher is satisfied by graph.Client.
type GroupFetcher interface {
	FetchUserGroups(ctx context.Context, userToken string) ([]graph.Group, error)
}

// FilterBuilder resolves a user's groups and renders a search filter
// restricting results to documents tagged with one of those groups.
type FilterBuilder struct {
	groups GroupFetcher
	column string
}

// NewFilterBuilder creates a FilterBuilder over the permitted-groups
// column of the search index.
func NewFilterBuilder(groups GroupFetcher, permittedGroupsColumn string) (*FilterBuilder, error) {
	if groups == nil {
		return nil, errors.New("search: group fetcher must not be nil")
	}
	column := strings.TrimSpace(permittedGroupsColumn)
	if column == "" {
		return nil, errors.New("search: permitted groups column must not be empty")
	}
	return &FilterBuilder{groups: groups, column: column}, nil
}

// GenerateFilterString fetches the user's groups and renders the filter
// expression for the configured column.
func (b *FilterBuilder) GenerateFilterString(ctx context.Context, userToken string) (string, error) {
	groups, err := b.groups.FetchUserGroups(ctx, userToken)
	if err != nil {
		return "", fmt.Errorf("search: fetch user groups: %w", err)
	}
	return BuildFilterString(b.column, groups), nil
}

// BuildFilterString renders the search.in filter expression over group
// IDs. An empty membership list still yields a valid (match-nothing)
// expression.
func BuildFilterString(column string, groups []graph.Group) string {
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return fmt.Sprintf("%s/any(g:search.in(g, '%s'))", column, strings.Join(ids, ", "))
}

// ParseMultiColumns splits a column list on "|" when present, falling
// back to ",".
func ParseMultiColumns(columns string) []string {
	if strings.Contains(columns, "|") {
		return strings.Split(columns, "|")
	}
	return strings.Split(columns, ",")
}
