package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pagedServer(t *testing.T, total int, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "hasBorrowed: true")

		assert.Contains(t, req.Query, "id_gt: $after")

		first := int(req.Variables["first"].(float64))
		after := req.Variables["after"].(string)
		*seen = append(*seen, after)

		rows := make([]string, 0, first)
		for i := 0; i < total && len(rows) < first; i++ {
			if id := accountID(i); id > after {
				rows = append(rows, fmt.Sprintf(`{"id":"%s"}`, id))
			}
		}
		fmt.Fprintf(w, `{"data":{"accounts":[%s]}}`, strings.Join(rows, ","))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func accountID(i int) string { return fmt.Sprintf("0x%040x", i) }

func TestListIDs_PagesUntilEmptyPage(t *testing.T) {
	var cursors []string
	srv := pagedServer(t, 5, &cursors)

	ids, err := NewClient(srv.URL, "key").ListIDs(context.Background(), Listing{Entity: "accounts", Where: "hasBorrowed: true"}, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	assert.Equal(t, []string{"", accountID(1), accountID(3), accountID(4)}, cursors)
}

func TestListIDs_ExactMultipleOfPageSize(t *testing.T) {
	var cursors []string
	srv := pagedServer(t, 4, &cursors)

	ids, err := NewClient(srv.URL, "key").ListIDs(context.Background(), Listing{Entity: "accounts", Where: "hasBorrowed: true"}, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 4)
	assert.Equal(t, []string{"", accountID(1), accountID(3)}, cursors)
}

func TestListIDs_MaxPages(t *testing.T) {
	var cursors []string
	srv := pagedServer(t, 100, &cursors)
	c := NewClient(srv.URL, "key")
	c.SetMaxPages(2)

	ids, err := c.ListIDs(context.Background(), Listing{Entity: "accounts", Where: "hasBorrowed: true"}, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 20)
	assert.Equal(t, accountID(19), ids[19])
}

func TestListIDs_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"bad field"}]}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").ListIDs(context.Background(), Listing{Entity: "users"}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad field")
}

func TestListIDs_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").ListIDs(context.Background(), Listing{Entity: "users"}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
