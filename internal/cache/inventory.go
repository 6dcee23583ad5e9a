package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	UserKeyPrefix         = "user:%d"
	PostKeyPrefix         = "post:%d"
	PostCommentsKeyPrefix = "post:%d:comments"
	RepliesKeyPrefix      = "comment:%d:replies"
)

const (
	UserTTL         = 5 * time.Minute
	PostTTL         = 30 * time.Minute
	PostCommentsTTL = 2 * time.Minute
	RepliesTTL      = 2 * time.Minute
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func PostKey(postID uint) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

func PostCommentsKey(postID uint) string {
	return fmt.Sprintf(PostCommentsKeyPrefix, postID)
}

func RepliesKey(commentID uint) string {
	return fmt.Sprintf(RepliesKeyPrefix, commentID)
}

// keyClassOf reduces a concrete key to its metric label ("post", "post_comments", ...).
func keyClassOf(key string) string {
	switch {
	case strings.HasSuffix(key, ":comments"):
		return "post_comments"
	case strings.HasSuffix(key, ":replies"):
		return "comment_replies"
	case strings.HasPrefix(key, "post:"):
		return "post"
	case strings.HasPrefix(key, "user:"):
		return "user"
	default:
		return "other"
	}
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}

// InvalidatePost drops the post detail entry along with its comment list.
// Comment mutations change the computed comments_count on the post, so both
// entries go stale together.
func InvalidatePost(ctx context.Context, postID uint) {
	Invalidate(ctx, PostKey(postID))
	Invalidate(ctx, PostCommentsKey(postID))
}

func InvalidateReplies(ctx context.Context, commentID uint) {
	Invalidate(ctx, RepliesKey(commentID))
}
