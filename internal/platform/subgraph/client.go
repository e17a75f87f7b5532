// Package subgraph is a GraphQL client for The Graph style indexers, used to
// enumerate the borrower accounts of a lending protocol.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultPageSize is the largest page most hosted indexers accept.
const DefaultPageSize = 1000

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// Client is a GraphQL client for one subgraph endpoint.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	maxPages   int
}

// NewClient creates a client for graphqlURL, e.g.
// "https://api.thegraph.com/subgraphs/name/venusprotocol/venus-subgraph".
// A non-empty apiKey is sent as a bearer token.
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		url:        graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxPages:   100,
	}
}

// SetMaxPages bounds how many pages a single listing may walk.
func (c *Client) SetMaxPages(n int) {
	if n > 0 {
		c.maxPages = n
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   map[string][]struct{ ID string } `json:"data"`
	Errors []graphqlError                   `json:"errors"`
}

// Listing names the entity collection to page through and an optional
// GraphQL where-filter body, e.g. Entity "accounts" with Where
// "hasBorrowed: true".
type Listing struct {
	Entity string
	Where  string
}

// query pages by id cursor. Hosted indexers cap skip at 5000.
func (l Listing) query() string {
	filter := "id_gt: $after"
	if l.Where != "" {
		filter += ", " + l.Where
	}
	return fmt.Sprintf(
		`query Page($first: Int!, $after: String!) { %s(first: $first, orderBy: id, orderDirection: asc, where: {%s}) { id } }`,
		l.Entity, filter)
}

// ListIDs walks the listing in id order and returns every id. It stops at
// the first empty page or after the page limit; on error it returns what it
// collected so far.
func (c *Client) ListIDs(ctx context.Context, l Listing, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q := l.query()

	var ids []string
	after := ""
	for range c.maxPages {
		rows, err := c.page(ctx, q, l.Entity, pageSize, after)
		if err != nil {
			return ids, fmt.Errorf("subgraph: list %s: %w", l.Entity, err)
		}
		if len(rows) == 0 {
			break
		}
		ids = append(ids, rows...)
		after = rows[len(rows)-1]
	}
	return ids, nil
}

func (c *Client) page(ctx context.Context, q, entity string, first int, after string) ([]string, error) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(graphqlRequest{
		Query:     q,
		Variables: map[string]any{"first": first, "after": after},
	}); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}

	rows := out.Data[entity]
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}
