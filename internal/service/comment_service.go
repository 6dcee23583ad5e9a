package service

import (
	"context"
	"strings"

	"popbucks/internal/models"
	"popbucks/internal/repository"
)

const maxCommentLen = 10000

// CommentService owns the business rules of the comment/reply subsystem:
// content validation, the single-level nesting invariant, author-only
// edit/delete, cascade deletion, and the no-op like contract.
type CommentService struct {
	commentRepo repository.CommentRepository
	postRepo    repository.PostRepository
}

type CreateCommentInput struct {
	UserID  uint
	PostID  uint
	Content string
	// ParentCommentID is nil for a top-level comment and set for a reply.
	ParentCommentID *uint
}

type UpdateCommentInput struct {
	UserID    uint
	CommentID uint
	Content   string
}

type DeleteCommentInput struct {
	UserID    uint
	CommentID uint
}

func NewCommentService(
	commentRepo repository.CommentRepository,
	postRepo repository.PostRepository,
) *CommentService {
	return &CommentService{
		commentRepo: commentRepo,
		postRepo:    postRepo,
	}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return models.NewValidationError("Content is required")
	}
	if len(content) > maxCommentLen {
		return models.NewValidationError("Comment too long (max 10000 characters)")
	}
	return nil
}

// CreateComment creates a top-level comment or, when ParentCommentID is set,
// a reply. The parent must be a top-level comment on the same post; replying
// to a reply is rejected so the tree never exceeds one level.
func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	if _, err := s.postRepo.GetByID(ctx, in.PostID, 0); err != nil {
		return nil, err
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	if in.ParentCommentID != nil {
		parent, err := s.commentRepo.GetByID(ctx, *in.ParentCommentID, 0)
		if err != nil {
			return nil, err
		}
		if parent.IsReply() {
			return nil, models.NewValidationError("Replies can only target top-level comments")
		}
		if parent.PostID != in.PostID {
			return nil, models.NewValidationError("Parent comment belongs to a different post")
		}
	}

	comment := &models.Comment{
		Content:         in.Content,
		UserID:          in.UserID,
		PostID:          in.PostID,
		ParentCommentID: in.ParentCommentID,
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, err
	}

	return s.commentRepo.GetByID(ctx, comment.ID, in.UserID)
}

// ListComments returns the post's top-level comments, author populated.
func (s *CommentService) ListComments(ctx context.Context, postID, currentUserID uint) ([]*models.Comment, error) {
	if _, err := s.postRepo.GetByID(ctx, postID, 0); err != nil {
		return nil, err
	}
	return s.commentRepo.ListTopLevelByPost(ctx, postID, currentUserID)
}

// ListReplies returns the replies under one top-level comment.
func (s *CommentService) ListReplies(ctx context.Context, parentID, currentUserID uint) ([]*models.Comment, error) {
	if _, err := s.commentRepo.GetByID(ctx, parentID, 0); err != nil {
		return nil, err
	}
	return s.commentRepo.ListReplies(ctx, parentID, currentUserID)
}

func (s *CommentService) UpdateComment(ctx context.Context, in UpdateCommentInput) (*models.Comment, error) {
	comment, err := s.commentRepo.GetByID(ctx, in.CommentID, 0)
	if err != nil {
		return nil, err
	}

	if comment.UserID != in.UserID {
		return nil, models.NewUnauthorizedError("You can only update your own comments")
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	comment.Content = in.Content
	if err := s.commentRepo.Update(ctx, comment); err != nil {
		return nil, err
	}

	return s.commentRepo.GetByID(ctx, comment.ID, in.UserID)
}

// DeleteComment deletes a comment after the author check. Deleting a
// top-level comment removes its replies as well.
func (s *CommentService) DeleteComment(ctx context.Context, in DeleteCommentInput) (*models.Comment, error) {
	comment, err := s.commentRepo.GetByID(ctx, in.CommentID, 0)
	if err != nil {
		return nil, err
	}

	if comment.UserID != in.UserID {
		return nil, models.NewUnauthorizedError("You can only delete your own comments")
	}

	if err := s.commentRepo.Delete(ctx, comment); err != nil {
		return nil, err
	}

	return comment, nil
}

// LikeComment records the user's like. Liking an already-liked comment
// succeeds silently without effect.
func (s *CommentService) LikeComment(ctx context.Context, userID, commentID uint) (*models.Comment, error) {
	if _, err := s.commentRepo.GetByID(ctx, commentID, 0); err != nil {
		return nil, err
	}
	if err := s.commentRepo.Like(ctx, userID, commentID); err != nil {
		return nil, err
	}
	return s.commentRepo.GetByID(ctx, commentID, userID)
}

// UnlikeComment removes the user's like. Unliking a comment the user never
// liked succeeds silently without effect.
func (s *CommentService) UnlikeComment(ctx context.Context, userID, commentID uint) (*models.Comment, error) {
	if _, err := s.commentRepo.GetByID(ctx, commentID, 0); err != nil {
		return nil, err
	}
	if err := s.commentRepo.Unlike(ctx, userID, commentID); err != nil {
		return nil, err
	}
	return s.commentRepo.GetByID(ctx, commentID, userID)
}
