package repository

import (
	"context"
	"errors"

	"popbucks/internal/cache"
	"popbucks/internal/models"
	"popbucks/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines persistence operations for comments and replies.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint, currentUserID uint) (*models.Comment, error)
	ListTopLevelByPost(ctx context.Context, postID uint, currentUserID uint) ([]*models.Comment, error)
	ListReplies(ctx context.Context, parentID uint, currentUserID uint) ([]*models.Comment, error)
	Update(ctx context.Context, comment *models.Comment) error
	// Delete removes the comment. For a top-level comment it cascades to the
	// comment's replies and all affected like rows in a single transaction.
	Delete(ctx context.Context, comment *models.Comment) error
	Like(ctx context.Context, userID, commentID uint) error
	Unlike(ctx context.Context, userID, commentID uint) error
	IsLiked(ctx context.Context, userID, commentID uint) (bool, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

// applyCommentDetails selects the computed like/reply counts alongside comments.*.
func (r *commentRepository) applyCommentDetails(db *gorm.DB, currentUserID uint) *gorm.DB {
	selectQuery := "comments.*, " +
		"(SELECT COUNT(*) FROM comment_likes WHERE comment_likes.comment_id = comments.id) as likes_count, " +
		"(SELECT COUNT(*) FROM comments AS replies WHERE replies.parent_comment_id = comments.id AND replies.deleted_at IS NULL) as replies_count"

	if currentUserID != 0 {
		return db.Select(selectQuery+", EXISTS(SELECT 1 FROM comment_likes WHERE comment_likes.comment_id = comments.id AND comment_likes.user_id = ?) as liked", currentUserID)
	}

	return db.Select(selectQuery + ", false as liked")
}

// populateLikes fills Likes with the ids of the liking users. The likes set
// rides on every comment response so a client can tell whether any given user
// already liked the comment without a second request.
func (r *commentRepository) populateLikes(ctx context.Context, comments ...*models.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(comments))
	byID := make(map[uint]*models.Comment, len(comments))
	for _, c := range comments {
		c.Likes = []uint{}
		ids = append(ids, c.ID)
		byID[c.ID] = c
	}

	var rows []models.CommentLike
	if err := r.db.WithContext(ctx).
		Where("comment_id IN ?", ids).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		if c, ok := byID[row.CommentID]; ok {
			c.Likes = append(c.Likes, row.UserID)
		}
	}
	return nil
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	ctx, span := observability.StartRepositorySpan(ctx, "Create", "comments")
	defer span.End()

	err := r.db.WithContext(ctx).Create(comment).Error
	observability.RecordSpanError(span, err)
	if err == nil {
		comment.Likes = []uint{}
		cache.InvalidatePost(ctx, comment.PostID)
		if comment.ParentCommentID != nil {
			cache.InvalidateReplies(ctx, *comment.ParentCommentID)
		}
	}
	return err
}

func (r *commentRepository) GetByID(ctx context.Context, id uint, currentUserID uint) (*models.Comment, error) {
	ctx, span := observability.StartRepositorySpan(ctx, "GetByID", "comments")
	defer span.End()

	var comment models.Comment
	err := r.applyCommentDetails(r.db.WithContext(ctx), currentUserID).
		Preload("User").
		First(&comment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Comment", id)
		}
		observability.RecordSpanError(span, err)
		return nil, err
	}
	if err := r.populateLikes(ctx, &comment); err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}
	return &comment, nil
}

// ListTopLevelByPost returns the post's top-level comments newest first.
// The unauthenticated path is served cache-aside; authenticated requests skip
// the cache because the computed liked column is per-user.
func (r *commentRepository) ListTopLevelByPost(ctx context.Context, postID uint, currentUserID uint) ([]*models.Comment, error) {
	ctx, span := observability.StartRepositorySpan(ctx, "ListTopLevelByPost", "comments")
	defer span.End()

	fetch := func(dest *[]*models.Comment) error {
		if err := r.applyCommentDetails(r.db.WithContext(ctx), currentUserID).
			Preload("User").
			Where("post_id = ? AND parent_comment_id IS NULL", postID).
			Order("created_at DESC").
			Find(dest).Error; err != nil {
			return err
		}
		return r.populateLikes(ctx, *dest...)
	}

	var comments []*models.Comment
	if currentUserID == 0 {
		err := cache.Aside(ctx, cache.PostCommentsKey(postID), &comments, cache.PostCommentsTTL, func() error {
			return fetch(&comments)
		})
		observability.RecordSpanError(span, err)
		return comments, err
	}

	err := fetch(&comments)
	observability.RecordSpanError(span, err)
	return comments, err
}

// ListReplies returns the replies of one parent comment oldest first, so a
// conversation under a comment reads top to bottom.
func (r *commentRepository) ListReplies(ctx context.Context, parentID uint, currentUserID uint) ([]*models.Comment, error) {
	ctx, span := observability.StartRepositorySpan(ctx, "ListReplies", "comments")
	defer span.End()

	fetch := func(dest *[]*models.Comment) error {
		if err := r.applyCommentDetails(r.db.WithContext(ctx), currentUserID).
			Preload("User").
			Where("parent_comment_id = ?", parentID).
			Order("created_at ASC").
			Find(dest).Error; err != nil {
			return err
		}
		return r.populateLikes(ctx, *dest...)
	}

	var replies []*models.Comment
	if currentUserID == 0 {
		err := cache.Aside(ctx, cache.RepliesKey(parentID), &replies, cache.RepliesTTL, func() error {
			return fetch(&replies)
		})
		observability.RecordSpanError(span, err)
		return replies, err
	}

	err := fetch(&replies)
	observability.RecordSpanError(span, err)
	return replies, err
}

func (r *commentRepository) Update(ctx context.Context, comment *models.Comment) error {
	ctx, span := observability.StartRepositorySpan(ctx, "Update", "comments")
	defer span.End()

	err := r.db.WithContext(ctx).Save(comment).Error
	observability.RecordSpanError(span, err)
	if err == nil {
		cache.InvalidatePost(ctx, comment.PostID)
		if comment.ParentCommentID != nil {
			cache.InvalidateReplies(ctx, *comment.ParentCommentID)
		}
	}
	return err
}

func (r *commentRepository) Delete(ctx context.Context, comment *models.Comment) error {
	ctx, span := observability.StartRepositorySpan(ctx, "Delete", "comments")
	defer span.End()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if comment.ParentCommentID == nil {
			// Cascade: likes on replies, the replies themselves, then likes
			// on the parent. Reply rows are soft-deleted like their parent.
			if err := tx.
				Where("comment_id IN (?)",
					tx.Model(&models.Comment{}).Select("id").Where("parent_comment_id = ?", comment.ID),
				).
				Delete(&models.CommentLike{}).Error; err != nil {
				return err
			}
			if err := tx.Where("parent_comment_id = ?", comment.ID).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("comment_id = ?", comment.ID).Delete(&models.CommentLike{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Comment{}, comment.ID).Error
	})
	observability.RecordSpanError(span, err)
	if err == nil {
		cache.InvalidatePost(ctx, comment.PostID)
		cache.InvalidateReplies(ctx, comment.ID)
		if comment.ParentCommentID != nil {
			cache.InvalidateReplies(ctx, *comment.ParentCommentID)
		}
	}
	return err
}

func (r *commentRepository) Like(ctx context.Context, userID, commentID uint) error {
	ctx, span := observability.StartRepositorySpan(ctx, "Like", "comment_likes")
	defer span.End()

	// INSERT ... ON CONFLICT DO NOTHING: liking an already-liked comment is a
	// silent no-op, which keeps the operation safe to repeat.
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO comment_likes (user_id, comment_id, created_at)
		 VALUES (?, ?, NOW())
		 ON CONFLICT (user_id, comment_id) DO NOTHING`,
		userID, commentID,
	)
	observability.RecordSpanError(span, result.Error)
	return result.Error
}

func (r *commentRepository) Unlike(ctx context.Context, userID, commentID uint) error {
	ctx, span := observability.StartRepositorySpan(ctx, "Unlike", "comment_likes")
	defer span.End()

	// Matching zero rows is fine: unliking a not-liked comment is a no-op.
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND comment_id = ?", userID, commentID).
		Delete(&models.CommentLike{}).Error
	observability.RecordSpanError(span, err)
	return err
}

func (r *commentRepository) IsLiked(ctx context.Context, userID, commentID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CommentLike{}).
		Where("user_id = ? AND comment_id = ?", userID, commentID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
