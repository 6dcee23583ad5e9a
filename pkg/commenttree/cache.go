package commenttree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultPageSize is the display window: VisibleComments and
	// VisibleReplies reveal this many more entries per page. The full arrays
	// are always fetched in one shot; paging is a client-side slice.
	DefaultPageSize = 10

	// DefaultMaxPosts bounds how many per-post views the cache retains.
	// Least-recently-opened views are evicted.
	DefaultMaxPosts = 32
)

// CountSink receives the post's top-level comment count whenever it changes.
// Reply mutations never trigger it.
type CountSink func(postID ID, topLevelCount int)

// FailureHook receives the error behind a rolled-back mutation, after local
// state has been restored. commentID is empty for failed top-level adds.
type FailureHook func(commentID ID, err error)

// CacheConfig configures a TreeCache.
type CacheConfig struct {
	Client      *Client
	CurrentUser ID
	PageSize    int         // default DefaultPageSize
	MaxPosts    int         // default DefaultMaxPosts
	CountSink   CountSink   // optional
	OnFailure   FailureHook // optional
}

// postView is the cached tree for one open post: top-level comments newest
// first, and per-parent reply slices oldest first, fetched lazily.
type postView struct {
	comments        []Comment
	repliesByParent map[ID][]Comment
	repliesFetched  map[ID]bool
}

// TreeCache holds per-post comment trees and runs the optimistic update
// protocol: snapshot, apply, call, reconcile or roll back. All state is
// guarded by one mutex; network calls happen outside it so independent
// actions stay concurrent.
type TreeCache struct {
	mu       sync.Mutex
	client   *Client
	user     ID
	pageSize int
	views    *lru.Cache[ID, *postView]
	inflight map[ID]bool
	sink     CountSink
	failed   FailureHook
	tempSeq  atomic.Int64
}

// NewTreeCache creates a TreeCache.
func NewTreeCache(cfg CacheConfig) (*TreeCache, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("commenttree: CacheConfig.Client is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPosts := cfg.MaxPosts
	if maxPosts <= 0 {
		maxPosts = DefaultMaxPosts
	}
	views, err := lru.New[ID, *postView](maxPosts)
	if err != nil {
		return nil, err
	}
	return &TreeCache{
		client:   cfg.Client,
		user:     cfg.CurrentUser,
		pageSize: pageSize,
		views:    views,
		inflight: make(map[ID]bool),
		sink:     cfg.CountSink,
		failed:   cfg.OnFailure,
	}, nil
}

// Open fetches the post's top-level comments and installs the view, replacing
// any stale one. A fetch failure is returned as an error and installs
// nothing: an open view with zero comments always means the post genuinely
// has none.
func (tc *TreeCache) Open(ctx context.Context, postID ID) error {
	comments, err := tc.client.FetchTopLevelComments(ctx, postID)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	tc.views.Add(postID, &postView{
		comments:        comments,
		repliesByParent: make(map[ID][]Comment),
		repliesFetched:  make(map[ID]bool),
	})
	count := len(comments)
	tc.mu.Unlock()

	tc.emitCount(postID, count)
	return nil
}

// CommentCount returns the number of top-level comments in the open view.
func (tc *TreeCache) CommentCount(postID ID) (int, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	view, ok := tc.views.Get(postID)
	if !ok {
		return 0, ErrUnknownPost
	}
	return len(view.comments), nil
}

// VisibleComments returns the display window over the top-level comments:
// pages are cumulative, so page 0 shows the first pageSize comments and each
// subsequent page reveals pageSize more.
func (tc *TreeCache) VisibleComments(postID ID, page int) ([]Comment, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	view, ok := tc.views.Get(postID)
	if !ok {
		return nil, ErrUnknownPost
	}
	return windowCopy(view.comments, page, tc.pageSize), nil
}

// ExpandReplies fetches (once) and returns all replies under a top-level
// comment. Subsequent calls serve the cached slice for the lifetime of the
// view.
func (tc *TreeCache) ExpandReplies(ctx context.Context, postID, parentID ID) ([]Comment, error) {
	tc.mu.Lock()
	view, ok := tc.views.Get(postID)
	if !ok {
		tc.mu.Unlock()
		return nil, ErrUnknownPost
	}
	if view.repliesFetched[parentID] {
		cached := cloneComments(view.repliesByParent[parentID])
		tc.mu.Unlock()
		return cached, nil
	}
	tc.mu.Unlock()

	replies, err := tc.client.FetchReplies(ctx, postID, parentID)
	if err != nil {
		return nil, err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	view, ok = tc.views.Get(postID)
	if !ok {
		return nil, ErrUnknownPost
	}
	view.repliesByParent[parentID] = replies
	view.repliesFetched[parentID] = true
	return cloneComments(replies), nil
}

// VisibleReplies returns the display window over a parent's fetched replies.
func (tc *TreeCache) VisibleReplies(postID, parentID ID, page int) ([]Comment, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	view, ok := tc.views.Get(postID)
	if !ok {
		return nil, ErrUnknownPost
	}
	return windowCopy(view.repliesByParent[parentID], page, tc.pageSize), nil
}

// Liked reports whether the current user is in the comment's likes set.
func (tc *TreeCache) Liked(postID, commentID ID) (bool, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	comment, err := tc.findLocked(postID, commentID)
	if err != nil {
		return false, err
	}
	return comment.LikedBy(tc.user), nil
}

// LikeCount returns the size of the comment's likes set.
func (tc *TreeCache) LikeCount(postID, commentID ID) (int, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	comment, err := tc.findLocked(postID, commentID)
	if err != nil {
		return 0, err
	}
	return comment.LikeCount(), nil
}

// AddComment optimistically prepends a placeholder top-level comment,
// creates it server-side, and reconciles the placeholder with the server's
// object. On failure the placeholder is removed again.
func (tc *TreeCache) AddComment(ctx context.Context, postID ID, content string) (*Comment, error) {
	tempID := tc.nextTempID()
	now := time.Now()
	placeholder := Comment{
		ID:        tempID,
		Post:      postID,
		Author:    Author{ID: tc.user},
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tc.mu.Lock()
	view, ok := tc.views.Get(postID)
	if !ok {
		tc.mu.Unlock()
		return nil, ErrUnknownPost
	}
	view.comments = append([]Comment{placeholder}, view.comments...)
	count := len(view.comments)
	tc.mu.Unlock()

	tc.emitCount(postID, count)

	created, err := tc.client.AddComment(ctx, postID, content)

	tc.mu.Lock()
	view, ok = tc.views.Get(postID)
	if ok {
		if err != nil {
			view.comments = removeComment(view.comments, tempID)
		} else {
			view.comments = replaceComment(view.comments, tempID, *created)
		}
		count = len(view.comments)
	}
	tc.mu.Unlock()

	if err != nil {
		if ok {
			tc.emitCount(postID, count)
		}
		tc.notifyFailure("", err)
		return nil, err
	}
	return created, nil
}

// AddReply optimistically appends a placeholder reply under parentID. The
// post's top-level count is untouched either way. The parent's in-flight
// guard serializes replies against concurrent mutations of the parent.
func (tc *TreeCache) AddReply(ctx context.Context, postID, parentID ID, content string) (*Comment, error) {
	tempID := tc.nextTempID()
	now := time.Now()
	placeholder := Comment{
		ID:            tempID,
		Post:          postID,
		Author:        Author{ID: tc.user},
		Content:       content,
		ParentComment: parentID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tc.mu.Lock()
	view, ok := tc.views.Get(postID)
	if !ok {
		tc.mu.Unlock()
		return nil, ErrUnknownPost
	}
	if tc.inflight[parentID] {
		tc.mu.Unlock()
		return nil, ErrActionInFlight
	}
	tc.inflight[parentID] = true
	view.repliesByParent[parentID] = append(view.repliesByParent[parentID], placeholder)
	tc.mu.Unlock()

	created, err := tc.client.AddReply(ctx, postID, parentID, content)

	tc.mu.Lock()
	view, ok = tc.views.Get(postID)
	if ok {
		if err != nil {
			view.repliesByParent[parentID] = removeComment(view.repliesByParent[parentID], tempID)
		} else {
			view.repliesByParent[parentID] = replaceComment(view.repliesByParent[parentID], tempID, *created)
		}
	}
	delete(tc.inflight, parentID)
	tc.mu.Unlock()

	if err != nil {
		tc.notifyFailure(parentID, err)
		return nil, err
	}
	return created, nil
}

// UpdateComment optimistically rewrites the comment's content and reconciles
// with the server object. A rejected call (not the author, comment gone)
// restores the prior content.
func (tc *TreeCache) UpdateComment(ctx context.Context, postID, commentID ID, content string) error {
	tc.mu.Lock()
	view, ok := tc.views.Get(postID)
	if !ok {
		tc.mu.Unlock()
		return ErrUnknownPost
	}
	if tc.inflight[commentID] {
		tc.mu.Unlock()
		return ErrActionInFlight
	}
	prior, found := findComment(view, commentID)
	if !found {
		tc.mu.Unlock()
		return &APIError{Status: 404, Code: codeNotFound, Message: "comment not in view"}
	}
	tc.inflight[commentID] = true

	optimistic := cloneComment(prior)
	optimistic.Content = content
	optimistic.UpdatedAt = time.Now()
	setComment(view, optimistic)
	tc.mu.Unlock()

	updated, err := tc.client.UpdateComment(ctx, postID, commentID, content)

	tc.mu.Lock()
	view, ok = tc.views.Get(postID)
	if ok {
		switch {
		case err == nil:
			setComment(view, *updated)
		case IsNotFound(err):
			// Deleted concurrently by another session: rollback would
			// resurrect a ghost, so drop it from the view instead.
			tc.purgeLocked(view, prior)
		default:
			setComment(view, prior)
		}
	}
	count := tc.topLevelCountLocked(postID)
	delete(tc.inflight, commentID)
	tc.mu.Unlock()

	if err != nil {
		if IsNotFound(err) && !prior.IsReply() {
			tc.emitCount(postID, count)
		}
		tc.notifyFailure(commentID, err)
		return err
	}
	return nil
}

// DeleteComment optimistically removes the comment; for a top-level comment
// the cached replies go with it. On failure everything is reinserted at its
// prior position.
func (tc *TreeCache) DeleteComment(ctx context.Context, postID, commentID ID) error {
	tc.mu.Lock()
	view, ok := tc.views.Get(postID)
	if !ok {
		tc.mu.Unlock()
		return ErrUnknownPost
	}
	if tc.inflight[commentID] {
		tc.mu.Unlock()
		return ErrActionInFlight
	}
	prior, found := findComment(view, commentID)
	if !found {
		tc.mu.Unlock()
		return &APIError{Status: 404, Code: codeNotFound, Message: "comment not in view"}
	}
	tc.inflight[commentID] = true

	// Snapshot the slices the delete touches so a failed call restores the
	// comment (and its replies) at their prior positions.
	var priorComments []Comment
	var priorReplies []Comment
	priorFetched := false
	if prior.IsReply() {
		priorReplies = cloneComments(view.repliesByParent[prior.ParentComment])
		view.repliesByParent[prior.ParentComment] = removeComment(view.repliesByParent[prior.ParentComment], commentID)
	} else {
		priorComments = cloneComments(view.comments)
		priorReplies = cloneComments(view.repliesByParent[commentID])
		priorFetched = view.repliesFetched[commentID]
		view.comments = removeComment(view.comments, commentID)
		delete(view.repliesByParent, commentID)
		delete(view.repliesFetched, commentID)
	}
	count := len(view.comments)
	tc.mu.Unlock()

	if !prior.IsReply() {
		tc.emitCount(postID, count)
	}

	err := tc.client.DeleteComment(ctx, postID, commentID)

	tc.mu.Lock()
	view, ok = tc.views.Get(postID)
	if ok && err != nil && !IsNotFound(err) {
		// Present(restored): put everything back where it was.
		if prior.IsReply() {
			view.repliesByParent[prior.ParentComment] = priorReplies
		} else {
			view.comments = priorComments
			view.repliesByParent[commentID] = priorReplies
			if priorFetched {
				view.repliesFetched[commentID] = true
			}
		}
	}
	count = tc.topLevelCountLocked(postID)
	delete(tc.inflight, commentID)
	tc.mu.Unlock()

	if err != nil && !IsNotFound(err) {
		if ok && !prior.IsReply() {
			tc.emitCount(postID, count)
		}
		tc.notifyFailure(commentID, err)
		return err
	}
	// A 404 means another session already deleted it; the optimistic removal
	// stands and the action counts as done.
	return nil
}

// ToggleLike likes the comment when the current user has not liked it and
// unlikes it otherwise, optimistically updating the likes set. A second
// toggle while one is outstanding returns ErrActionInFlight without issuing
// a network call.
func (tc *TreeCache) ToggleLike(ctx context.Context, postID, commentID ID) error {
	if tc.user == "" {
		return ErrUnauthenticated
	}

	tc.mu.Lock()
	view, ok := tc.views.Get(postID)
	if !ok {
		tc.mu.Unlock()
		return ErrUnknownPost
	}
	if tc.inflight[commentID] {
		tc.mu.Unlock()
		return ErrActionInFlight
	}
	prior, found := findComment(view, commentID)
	if !found {
		tc.mu.Unlock()
		return &APIError{Status: 404, Code: codeNotFound, Message: "comment not in view"}
	}
	tc.inflight[commentID] = true

	liking := !prior.LikedBy(tc.user)
	optimistic := cloneComment(prior)
	if liking {
		optimistic.Likes = append(optimistic.Likes, LikeRef{UserID: tc.user})
	} else {
		optimistic.Likes = removeLike(optimistic.Likes, tc.user)
	}
	setComment(view, optimistic)
	tc.mu.Unlock()

	var updated *Comment
	var err error
	if liking {
		updated, err = tc.client.LikeComment(ctx, commentID)
	} else {
		updated, err = tc.client.UnlikeComment(ctx, commentID)
	}

	tc.mu.Lock()
	view, ok = tc.views.Get(postID)
	if ok {
		switch {
		case err == nil && updated != nil && updated.ID != "":
			// Preserve the local position; only the server-owned fields of
			// the returned object matter.
			setComment(view, *updated)
		case err == nil:
			// Server returned no body; the optimistic state stands.
		case IsNotFound(err):
			tc.purgeLocked(view, prior)
		default:
			setComment(view, prior)
		}
	}
	count := tc.topLevelCountLocked(postID)
	delete(tc.inflight, commentID)
	tc.mu.Unlock()

	if err != nil {
		if IsNotFound(err) && !prior.IsReply() {
			tc.emitCount(postID, count)
		}
		tc.notifyFailure(commentID, err)
		return err
	}
	return nil
}

// --- internals (callers hold tc.mu unless noted) ---

func (tc *TreeCache) findLocked(postID, commentID ID) (Comment, error) {
	view, ok := tc.views.Get(postID)
	if !ok {
		return Comment{}, ErrUnknownPost
	}
	comment, found := findComment(view, commentID)
	if !found {
		return Comment{}, &APIError{Status: 404, Code: codeNotFound, Message: "comment not in view"}
	}
	return comment, nil
}

func (tc *TreeCache) topLevelCountLocked(postID ID) int {
	view, ok := tc.views.Peek(postID)
	if !ok {
		return 0
	}
	return len(view.comments)
}

// purgeLocked drops a comment that the server no longer knows about, taking
// cached replies with it when the comment was top-level.
func (tc *TreeCache) purgeLocked(view *postView, comment Comment) {
	if comment.IsReply() {
		view.repliesByParent[comment.ParentComment] = removeComment(view.repliesByParent[comment.ParentComment], comment.ID)
		return
	}
	view.comments = removeComment(view.comments, comment.ID)
	delete(view.repliesByParent, comment.ID)
	delete(view.repliesFetched, comment.ID)
}

func (tc *TreeCache) emitCount(postID ID, count int) {
	if tc.sink != nil {
		tc.sink(postID, count)
	}
}

func (tc *TreeCache) notifyFailure(commentID ID, err error) {
	if tc.failed != nil {
		tc.failed(commentID, err)
	}
}

func (tc *TreeCache) nextTempID() ID {
	return ID(fmt.Sprintf("pending-%d", tc.tempSeq.Add(1)))
}

func findComment(view *postView, commentID ID) (Comment, bool) {
	for _, c := range view.comments {
		if c.ID == commentID {
			return cloneComment(c), true
		}
	}
	for _, replies := range view.repliesByParent {
		for _, c := range replies {
			if c.ID == commentID {
				return cloneComment(c), true
			}
		}
	}
	return Comment{}, false
}

// setComment writes the comment back into whichever slice holds its id,
// keeping its position.
func setComment(view *postView, comment Comment) {
	for i, c := range view.comments {
		if c.ID == comment.ID {
			view.comments[i] = comment
			return
		}
	}
	for parent, replies := range view.repliesByParent {
		for i, c := range replies {
			if c.ID == comment.ID {
				view.repliesByParent[parent][i] = comment
				return
			}
		}
	}
}

func removeComment(comments []Comment, commentID ID) []Comment {
	out := comments[:0:0]
	for _, c := range comments {
		if c.ID != commentID {
			out = append(out, c)
		}
	}
	return out
}

func replaceComment(comments []Comment, commentID ID, replacement Comment) []Comment {
	out := cloneComments(comments)
	for i, c := range out {
		if c.ID == commentID {
			out[i] = replacement
		}
	}
	return out
}

func removeLike(likes []LikeRef, user ID) []LikeRef {
	out := likes[:0:0]
	for _, l := range likes {
		if l.UserID != user {
			out = append(out, l)
		}
	}
	return out
}

func cloneComment(c Comment) Comment {
	out := c
	out.Likes = append([]LikeRef(nil), c.Likes...)
	return out
}

func cloneComments(comments []Comment) []Comment {
	if comments == nil {
		return nil
	}
	out := make([]Comment, len(comments))
	for i, c := range comments {
		out[i] = cloneComment(c)
	}
	return out
}

func windowCopy(comments []Comment, page, pageSize int) []Comment {
	if page < 0 {
		page = 0
	}
	end := (page + 1) * pageSize
	if end > len(comments) {
		end = len(comments)
	}
	return cloneComments(comments[:end])
}
