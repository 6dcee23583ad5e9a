package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis points the package client at an in-process Redis and restores
// the cache-less default when the test ends.
func newTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		client = nil
	})
	return mr
}

func TestAside_FetchesOnceThenServesFromCache(t *testing.T) {
	newTestRedis(t)
	ctx := context.Background()

	fetches := 0
	fetch := func(dest *[]string) func() error {
		return func() error {
			fetches++
			*dest = []string{"first", "second"}
			return nil
		}
	}

	var got []string
	require.NoError(t, Aside(ctx, PostCommentsKey(1), &got, PostCommentsTTL, fetch(&got)))
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, 1, fetches)

	var again []string
	require.NoError(t, Aside(ctx, PostCommentsKey(1), &again, PostCommentsTTL, fetch(&again)))
	assert.Equal(t, []string{"first", "second"}, again)
	assert.Equal(t, 1, fetches, "a cache hit must not reach the source")
}

func TestAside_NilClientAlwaysFetches(t *testing.T) {
	client = nil
	ctx := context.Background()

	fetches := 0
	var got int
	for i := 0; i < 2; i++ {
		require.NoError(t, Aside(ctx, PostKey(1), &got, PostTTL, func() error {
			fetches++
			got = 42
			return nil
		}))
	}
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 42, got)
}

// A comment mutation changes the post's computed comments_count, so dropping
// the post detail entry must drop the comment list entry with it.
func TestInvalidatePost_DropsCommentListToo(t *testing.T) {
	mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, PostKey(1), "post", time.Minute))
	require.NoError(t, SetJSON(ctx, PostCommentsKey(1), []string{"c"}, time.Minute))
	require.NoError(t, SetJSON(ctx, RepliesKey(5), []string{"r"}, time.Minute))
	require.NoError(t, SetJSON(ctx, PostKey(2), "other", time.Minute))

	InvalidatePost(ctx, 1)

	assert.False(t, mr.Exists(PostKey(1)))
	assert.False(t, mr.Exists(PostCommentsKey(1)))
	assert.True(t, mr.Exists(RepliesKey(5)), "reply lists of other comments stay")
	assert.True(t, mr.Exists(PostKey(2)), "other posts stay")
}

func TestInvalidateReplies(t *testing.T) {
	mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, RepliesKey(5), []string{"r"}, time.Minute))
	require.NoError(t, SetJSON(ctx, RepliesKey(6), []string{"r2"}, time.Minute))

	InvalidateReplies(ctx, 5)

	assert.False(t, mr.Exists(RepliesKey(5)))
	assert.True(t, mr.Exists(RepliesKey(6)))
}

func TestGetJSON_MissIsNotAnError(t *testing.T) {
	newTestRedis(t)

	var dest string
	found, err := GetJSON(context.Background(), UserKey(99), &dest)
	assert.NoError(t, err)
	assert.False(t, found)
}
