// Package graph fetches a user's directory group memberships from the
// Microsoft Graph API.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxPages bounds @odata.nextLink pagination so a misbehaving upstream
// cannot loop the client forever.
const maxPages = 100

// Group is a directory group membership entry.
type Group struct {
	ID string `json:"id"`
}

type membershipPage struct {
	Value    []Group `json:"value"`
	NextLink string  `json:"@odata.nextLink"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("graph: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Microsoft Graph client for transitive group
// membership lookups.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client with the default Graph endpoint.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchUserGroups returns every group the token's user transitively
// belongs to, following @odata.nextLink pagination.
func (c *Client) FetchUserGroups(ctx context.Context, userToken string) ([]Group, error) {
	if strings.TrimSpace(userToken) == "" {
		return nil, errors.New("graph: user token is required")
	}

	endpoint := c.baseURL + "/me/transitiveMemberOf?$select=id"
	var groups []Group
	for page := 0; page < maxPages; page++ {
		result, err := c.fetchPage(ctx, endpoint, userToken)
		if err != nil {
			return nil, err
		}
		groups = append(groups, result.Value...)
		if result.NextLink == "" {
			return groups, nil
		}
		endpoint = result.NextLink
	}
	return nil, fmt.Errorf("graph: membership pagination exceeded %d pages", maxPages)
}

func (c *Client) fetchPage(ctx context.Context, endpoint, userToken string) (membershipPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return membershipPage{}, fmt.Errorf("graph: build request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+userToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return membershipPage{}, fmt.Errorf("graph: fetch user groups: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return membershipPage{}, fmt.Errorf("graph: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return membershipPage{}, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        endpoint,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var result membershipPage
	if err := json.Unmarshal(body, &result); err != nil {
		return membershipPage{}, fmt.Errorf("graph: decode response: %w", err)
	}
	return result, nil
}
