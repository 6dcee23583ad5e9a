package commenttree

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// refreshableToken is a TokenSource whose Refresh swaps in a second token.
type refreshableToken struct {
	current   atomic.Value
	next      string
	refreshes atomic.Int32
}

func newRefreshableToken(current, next string) *refreshableToken {
	ts := &refreshableToken{next: next}
	ts.current.Store(current)
	return ts
}

func (ts *refreshableToken) Token() string {
	return ts.current.Load().(string)
}

func (ts *refreshableToken) Refresh(ctx context.Context) (string, error) {
	ts.refreshes.Add(1)
	ts.current.Store(ts.next)
	return ts.next, nil
}

func commentJSON() string {
	return `{
		"_id": "c1",
		"post": "p1",
		"author": {"_id": "u1", "username": "cora", "firstName": "Cora"},
		"content": "hello",
		"parentComment": null,
		"likes": [],
		"createdAt": "2025-03-01T10:00:00Z",
		"updatedAt": "2025-03-01T10:00:00Z"
	}`
}

func TestClient_RefreshesTokenOnceOn401(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid or expired token"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(commentJSON()))
	}))
	defer srv.Close()

	tokens := newRefreshableToken("stale", "fresh")
	client := NewClient(srv.URL, WithTokenSource(tokens))

	created, err := client.AddComment(context.Background(), "p1", "hello")
	require.NoError(t, err)
	assert.Equal(t, ID("c1"), created.ID)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(2), requests.Load())
}

func TestClient_RefreshFailureIsFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid or expired token","code":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	// Both the stale token and the refreshed one are rejected: one retry,
	// then the 401 surfaces.
	tokens := newRefreshableToken("stale", "still-stale")
	client := NewClient(srv.URL, WithTokenSource(tokens))

	_, err := client.LikeComment(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, IsAuthorization(err))
	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestClient_MutationWithoutTokenNeverHitsNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.AddComment(context.Background(), "p1", "hello")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(0), requests.Load())
}

func TestClient_ReadFailureIsAnExplicitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom","code":"INTERNAL_ERROR"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	comments, err := client.FetchTopLevelComments(context.Background(), "p1")
	require.Error(t, err)
	assert.Nil(t, comments)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestClient_EmptyListIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	comments, err := client.FetchTopLevelComments(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestClient_DecodesWrappedListShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"comments": [` + commentJSON() + `]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	comments, err := client.FetchTopLevelComments(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, ID("c1"), comments[0].ID)
	assert.Equal(t, "cora", comments[0].Author.Username)
}

func TestComment_NormalizesLikeShapes(t *testing.T) {
	raw := `{
		"_id": "c9",
		"post": "p1",
		"author": "u1",
		"content": "mixed likes",
		"parentComment": "c1",
		"likes": ["u2", {"_id": "u3"}, 44],
		"createdAt": "2025-03-01T10:00:00Z",
		"updatedAt": "2025-03-01T10:00:00Z"
	}`

	var c Comment
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	assert.True(t, c.IsReply())
	assert.Equal(t, ID("u1"), c.Author.ID)
	assert.Equal(t, 3, c.LikeCount())
	assert.True(t, c.LikedBy("u2"))
	assert.True(t, c.LikedBy("u3"))
	assert.True(t, c.LikedBy("44"))
	assert.False(t, c.LikedBy("u1"))
}

func TestComment_DecodesNumericIDShape(t *testing.T) {
	raw := `{
		"id": 7,
		"post_id": 3,
		"user": {"id": 12, "username": "dex", "first_name": "Dex"},
		"content": "from the go backend",
		"parent_comment_id": null,
		"created_at": "2025-03-01T10:00:00Z",
		"updated_at": "2025-03-02T10:00:00Z"
	}`

	var c Comment
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	assert.Equal(t, ID("7"), c.ID)
	assert.Equal(t, ID("3"), c.Post)
	assert.Equal(t, ID("12"), c.Author.ID)
	assert.Equal(t, "Dex", c.Author.FirstName)
	assert.False(t, c.IsReply())
	assert.True(t, c.Edited())
}
