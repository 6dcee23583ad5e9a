package commenttree

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireComment(id, post, author, content string, parent ID, likes ...string) map[string]interface{} {
	likeRefs := make([]interface{}, len(likes))
	for i, l := range likes {
		likeRefs[i] = l
	}
	m := map[string]interface{}{
		"_id":       id,
		"post":      post,
		"author":    map[string]interface{}{"_id": author, "username": "user-" + author},
		"content":   content,
		"likes":     likeRefs,
		"createdAt": "2025-03-01T10:00:00Z",
		"updatedAt": "2025-03-01T10:00:00Z",
	}
	if parent != "" {
		m["parentComment"] = string(parent)
	} else {
		m["parentComment"] = nil
	}
	return m
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// countRecorder collects CountSink invocations.
type countRecorder struct {
	mu     sync.Mutex
	counts []int
}

func (r *countRecorder) sink(_ ID, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, count)
}

func (r *countRecorder) last() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counts) == 0 {
		return 0, false
	}
	return r.counts[len(r.counts)-1], true
}

func (r *countRecorder) all() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.counts...)
}

func newTestCache(t *testing.T, handler http.Handler, sink CountSink) (*TreeCache, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, WithTokenSource(StaticToken("token")))
	cache, err := NewTreeCache(CacheConfig{
		Client:      client,
		CurrentUser: "u1",
		PageSize:    2,
		CountSink:   sink,
	})
	require.NoError(t, err)
	return cache, srv
}

// Top-level adds and deletes must drive the propagated count; replies never do.
func TestCountTracksTopLevelOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("c1", "p1", "u1", "first", ""),
		})
	})
	mux.HandleFunc("POST /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, wireComment("c2", "p1", "u1", "second", ""))
	})
	mux.HandleFunc("POST /posts/p1/comments/c1/replies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, wireComment("r1", "p1", "u1", "a reply", "c1"))
	})
	mux.HandleFunc("DELETE /posts/p1/comments/c2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := &countRecorder{}
	cache, _ := newTestCache(t, mux, rec.sink)
	ctx := context.Background()

	require.NoError(t, cache.Open(ctx, "p1"))
	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, 1, last)

	_, err := cache.AddComment(ctx, "p1", "second")
	require.NoError(t, err)
	last, _ = rec.last()
	assert.Equal(t, 2, last)

	// Reply: local reply list grows, propagated count stays at 2.
	before := rec.all()
	_, err = cache.AddReply(ctx, "p1", "c1", "a reply")
	require.NoError(t, err)
	assert.Equal(t, before, rec.all())

	count, err := cache.CommentCount("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, cache.DeleteComment(ctx, "p1", "c2"))
	last, _ = rec.last()
	assert.Equal(t, 1, last)
}

// Deleting a parent removes the comment and every cached reply under it.
func TestCascadeDeletePurgesReplies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("c1", "p1", "u1", "parent", ""),
			wireComment("c2", "p1", "u2", "survivor", ""),
		})
	})
	mux.HandleFunc("GET /posts/p1/comments/c1/replies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("r1", "p1", "u2", "reply one", "c1"),
			wireComment("r2", "p1", "u3", "reply two", "c1"),
		})
	})
	mux.HandleFunc("DELETE /posts/p1/comments/c1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := &countRecorder{}
	cache, _ := newTestCache(t, mux, rec.sink)
	ctx := context.Background()

	require.NoError(t, cache.Open(ctx, "p1"))
	replies, err := cache.ExpandReplies(ctx, "p1", "c1")
	require.NoError(t, err)
	require.Len(t, replies, 2)

	require.NoError(t, cache.DeleteComment(ctx, "p1", "c1"))

	comments, err := cache.VisibleComments("p1", 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, ID("c2"), comments[0].ID)

	gone, err := cache.VisibleReplies("p1", "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	last, _ := rec.last()
	assert.Equal(t, 1, last)
}

// treeState captures everything observable about a view for deep-equality
// rollback assertions.
type treeState struct {
	comments []Comment
	replies  map[ID][]Comment
}

func captureState(t *testing.T, cache *TreeCache, postID ID, parents ...ID) treeState {
	t.Helper()
	comments, err := cache.VisibleComments(postID, 1<<20)
	require.NoError(t, err)
	state := treeState{comments: comments, replies: make(map[ID][]Comment)}
	for _, parent := range parents {
		replies, err := cache.VisibleReplies(postID, parent, 1<<20)
		require.NoError(t, err)
		state.replies[parent] = replies
	}
	return state
}

// A rejected write restores the exact pre-action state.
func TestRollbackRestoresExactState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("c1", "p1", "u2", "not yours", "", "u2", "u3"),
			wireComment("c2", "p1", "u1", "yours", ""),
		})
	})
	mux.HandleFunc("GET /posts/p1/comments/c1/replies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("r1", "p1", "u3", "kept", "c1"),
		})
	})
	reject := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]string{
			"error": "You can only update your own comments",
			"code":  "UNAUTHORIZED",
		})
	}
	mux.HandleFunc("PUT /posts/p1/comments/c1", reject)
	mux.HandleFunc("DELETE /posts/p1/comments/c1", reject)
	mux.HandleFunc("POST /comments/c1/like", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]string{
			"error": "boom", "code": "INTERNAL_ERROR",
		})
	})

	var failures []error
	var failuresMu sync.Mutex
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, WithTokenSource(StaticToken("token")))
	cache, err := NewTreeCache(CacheConfig{
		Client:      client,
		CurrentUser: "u1",
		OnFailure: func(_ ID, err error) {
			failuresMu.Lock()
			failures = append(failures, err)
			failuresMu.Unlock()
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Open(ctx, "p1"))
	_, err = cache.ExpandReplies(ctx, "p1", "c1")
	require.NoError(t, err)

	before := captureState(t, cache, "p1", "c1")

	err = cache.UpdateComment(ctx, "p1", "c1", "hijacked")
	require.Error(t, err)
	assert.True(t, IsAuthorization(err))
	assert.Equal(t, before, captureState(t, cache, "p1", "c1"))

	err = cache.DeleteComment(ctx, "p1", "c1")
	require.Error(t, err)
	assert.Equal(t, before, captureState(t, cache, "p1", "c1"))

	err = cache.ToggleLike(ctx, "p1", "c1")
	require.Error(t, err)
	assert.Equal(t, before, captureState(t, cache, "p1", "c1"))

	liked, err := cache.Liked("p1", "c1")
	require.NoError(t, err)
	assert.False(t, liked)

	failuresMu.Lock()
	assert.Len(t, failures, 3)
	failuresMu.Unlock()
}

// A failed top-level add removes the placeholder and re-emits the count.
func TestFailedAddRollsBackCountSink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{})
	})
	mux.HandleFunc("POST /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]string{
			"error": "Content is required", "code": "VALIDATION_ERROR",
		})
	})

	rec := &countRecorder{}
	cache, _ := newTestCache(t, mux, rec.sink)
	ctx := context.Background()

	require.NoError(t, cache.Open(ctx, "p1"))

	_, err := cache.AddComment(ctx, "p1", "   ")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	count, err := cache.CommentCount("p1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Sink saw the optimistic 1 and then the rollback to 0.
	assert.Equal(t, []int{0, 1, 0}, rec.all())
}

// Two rapid like-toggles on the same comment: the second is refused while the
// first is in flight, and exactly one request reaches the server.
func TestLiketogglesOnSameCommentAreSerialized(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	var likeRequests atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("c1", "p1", "u2", "hot take", ""),
			wireComment("c2", "p1", "u3", "other", ""),
		})
	})
	mux.HandleFunc("POST /comments/c1/like", func(w http.ResponseWriter, r *http.Request) {
		likeRequests.Add(1)
		close(arrived)
		<-release
		writeJSON(t, w, http.StatusOK, wireComment("c1", "p1", "u2", "hot take", "", "u1"))
	})
	mux.HandleFunc("POST /comments/c2/like", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, wireComment("c2", "p1", "u3", "other", "", "u1"))
	})

	cache, _ := newTestCache(t, mux, nil)
	ctx := context.Background()
	require.NoError(t, cache.Open(ctx, "p1"))

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- cache.ToggleLike(ctx, "p1", "c1")
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("first toggle never reached the server")
	}

	// Same comment: refused while the first is outstanding.
	err := cache.ToggleLike(ctx, "p1", "c1")
	assert.ErrorIs(t, err, ErrActionInFlight)

	// Different comment: proceeds concurrently.
	require.NoError(t, cache.ToggleLike(ctx, "p1", "c2"))

	close(release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, int32(1), likeRequests.Load())

	liked, err := cache.Liked("p1", "c1")
	require.NoError(t, err)
	assert.True(t, liked)

	// Guard cleared: the next toggle (an unlike) is dispatched normally.
	mux.HandleFunc("DELETE /comments/c1/like", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, wireComment("c1", "p1", "u2", "hot take", ""))
	})
	require.NoError(t, cache.ToggleLike(ctx, "p1", "c1"))
	liked, err = cache.Liked("p1", "c1")
	require.NoError(t, err)
	assert.False(t, liked)
}

// The display window is a cumulative slice over the fully fetched array.
func TestVisibleCommentsWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("c5", "p1", "u1", "fifth", ""),
			wireComment("c4", "p1", "u1", "fourth", ""),
			wireComment("c3", "p1", "u1", "third", ""),
			wireComment("c2", "p1", "u1", "second", ""),
			wireComment("c1", "p1", "u1", "first", ""),
		})
	})

	cache, _ := newTestCache(t, mux, nil) // page size 2
	require.NoError(t, cache.Open(context.Background(), "p1"))

	page0, err := cache.VisibleComments("p1", 0)
	require.NoError(t, err)
	assert.Len(t, page0, 2)
	assert.Equal(t, ID("c5"), page0[0].ID)

	page1, err := cache.VisibleComments("p1", 1)
	require.NoError(t, err)
	assert.Len(t, page1, 4)

	page9, err := cache.VisibleComments("p1", 9)
	require.NoError(t, err)
	assert.Len(t, page9, 5)
}

// A comment deleted by another session (404 on update) is dropped from the
// view instead of being restored as a ghost.
func TestNotFoundRemovesFromCache(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/p1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{
			wireComment("c1", "p1", "u1", "mine", ""),
			wireComment("c2", "p1", "u1", "also mine", ""),
		})
	})
	mux.HandleFunc("PUT /posts/p1/comments/c1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{
			"error": "Comment with ID 1 not found", "code": "NOT_FOUND",
		})
	})

	rec := &countRecorder{}
	cache, _ := newTestCache(t, mux, rec.sink)
	ctx := context.Background()
	require.NoError(t, cache.Open(ctx, "p1"))

	err := cache.UpdateComment(ctx, "p1", "c1", "edited")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	comments, err := cache.VisibleComments("p1", 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, ID("c2"), comments[0].ID)

	last, _ := rec.last()
	assert.Equal(t, 1, last)
}

// Least-recently-opened post views are evicted once the LRU bound is hit.
func TestViewEviction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, WithTokenSource(StaticToken("token")))
	cache, err := NewTreeCache(CacheConfig{Client: client, CurrentUser: "u1", MaxPosts: 2})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Open(ctx, "p1"))
	require.NoError(t, cache.Open(ctx, "p2"))
	require.NoError(t, cache.Open(ctx, "p3"))

	_, err = cache.CommentCount("p1")
	assert.ErrorIs(t, err, ErrUnknownPost)

	_, err = cache.CommentCount("p3")
	assert.NoError(t, err)
}

// A like mutation's server echo carries the authoritative likes set. Installing
// the echo must keep the caller's like visible, and the next toggle must read
// the reconciled state and issue an unlike rather than a second like.
func TestToggleLikeKeepsServerEchoedState(t *testing.T) {
	serverComment := func(likes []uint) map[string]interface{} {
		return map[string]interface{}{
			"id":                10,
			"post_id":           1,
			"user":              map[string]interface{}{"id": 2, "username": "author"},
			"content":           "hello",
			"parent_comment_id": nil,
			"likes":             likes,
			"likes_count":       len(likes),
			"created_at":        "2025-03-01T10:00:00Z",
			"updated_at":        "2025-03-01T10:00:00Z",
		}
	}

	var mu sync.Mutex
	var likeMethods []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []interface{}{serverComment(nil)})
	})
	mux.HandleFunc("POST /comments/10/like", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		likeMethods = append(likeMethods, r.Method)
		mu.Unlock()
		writeJSON(t, w, http.StatusOK, serverComment([]uint{1}))
	})
	mux.HandleFunc("DELETE /comments/10/like", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		likeMethods = append(likeMethods, r.Method)
		mu.Unlock()
		writeJSON(t, w, http.StatusOK, serverComment(nil))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, WithTokenSource(StaticToken("token")))
	cache, err := NewTreeCache(CacheConfig{Client: client, CurrentUser: "1"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Open(ctx, "1"))

	require.NoError(t, cache.ToggleLike(ctx, "1", "10"))
	liked, err := cache.Liked("1", "10")
	require.NoError(t, err)
	assert.True(t, liked, "like must survive the server echo replacing the optimistic comment")
	count, err := cache.LikeCount("1", "10")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, cache.ToggleLike(ctx, "1", "10"))
	liked, err = cache.Liked("1", "10")
	require.NoError(t, err)
	assert.False(t, liked)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodPost, http.MethodDelete}, likeMethods)
}
