package server

import (
	"time"

	"popbucks/internal/models"
	"popbucks/internal/observability"
	"popbucks/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateComment creates a top-level comment on a post (protected)
func (s *Server) CreateComment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	created, err := s.commentService.CreateComment(ctx, service.CreateCommentInput{
		UserID:  userID,
		PostID:  postID,
		Content: req.Content,
	})
	observability.ObserveCommentOp("create", err)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventCommentCreated, map[string]interface{}{
		"post_id":        postID,
		"comment":        created,
		"comments_count": s.postCommentsCount(c, postID, userID),
		"updated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.Status(fiber.StatusCreated).JSON(created)
}

// CreateReply creates a reply under a top-level comment (protected).
// Replying to a reply is rejected; the tree is one level deep.
func (s *Server) CreateReply(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	parentID, err := s.parseID(c, "commentId")
	if err != nil {
		return nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	created, err := s.commentService.CreateComment(ctx, service.CreateCommentInput{
		UserID:          userID,
		PostID:          postID,
		Content:         req.Content,
		ParentCommentID: &parentID,
	})
	observability.ObserveCommentOp("reply", err)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	// A reply never changes the post's top-level comment count, but clients
	// listening for the event still get the authoritative value.
	s.publishBroadcastEvent(EventCommentCreated, map[string]interface{}{
		"post_id":           postID,
		"parent_comment_id": parentID,
		"comment":           created,
		"comments_count":    s.postCommentsCount(c, postID, userID),
		"updated_at":        time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetComments returns the top-level comments for a post, newest first (public)
func (s *Server) GetComments(c *fiber.Ctx) error {
	ctx := c.UserContext()

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	currentUserID := uint(0)
	if id, ok := c.Locals("userID").(uint); ok {
		currentUserID = id
	}

	comments, err := s.commentService.ListComments(ctx, postID, currentUserID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	return c.JSON(comments)
}

// GetReplies returns the replies under one top-level comment, oldest first (public)
func (s *Server) GetReplies(c *fiber.Ctx) error {
	ctx := c.UserContext()

	if _, err := s.parseID(c, "id"); err != nil {
		return nil
	}
	parentID, err := s.parseID(c, "commentId")
	if err != nil {
		return nil
	}

	currentUserID := uint(0)
	if id, ok := c.Locals("userID").(uint); ok {
		currentUserID = id
	}

	replies, err := s.commentService.ListReplies(ctx, parentID, currentUserID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	return c.JSON(replies)
}

// UpdateComment updates a comment's content (owner only)
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	commentID, err := s.parseID(c, "commentId")
	if err != nil {
		return nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	updated, err := s.commentService.UpdateComment(ctx, service.UpdateCommentInput{
		UserID:    userID,
		CommentID: commentID,
		Content:   req.Content,
	})
	observability.ObserveCommentOp("update", err)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventCommentUpdated, map[string]interface{}{
		"post_id":    updated.PostID,
		"comment":    updated,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.JSON(updated)
}

// DeleteComment deletes a comment (owner only). Deleting a top-level comment
// removes its replies as well.
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	commentID, err := s.parseID(c, "commentId")
	if err != nil {
		return nil
	}

	comment, err := s.commentService.DeleteComment(ctx, service.DeleteCommentInput{
		UserID:    userID,
		CommentID: commentID,
	})
	observability.ObserveCommentOp("delete", err)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventCommentDeleted, map[string]interface{}{
		"post_id":        comment.PostID,
		"comment_id":     commentID,
		"comments_count": s.postCommentsCount(c, comment.PostID, userID),
		"updated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.SendStatus(fiber.StatusOK)
}

// LikeComment records the user's like on a comment (protected).
// Liking an already-liked comment is a no-op that still returns 200.
func (s *Server) LikeComment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	commentID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	comment, err := s.commentService.LikeComment(ctx, userID, commentID)
	observability.ObserveCommentOp("like", err)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventCommentLikeUpdated, map[string]interface{}{
		"post_id":     comment.PostID,
		"comment_id":  commentID,
		"likes_count": comment.LikesCount,
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.JSON(comment)
}

// UnlikeComment removes the user's like on a comment (protected).
// Unliking a never-liked comment is a no-op that still returns 200.
func (s *Server) UnlikeComment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	commentID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	comment, err := s.commentService.UnlikeComment(ctx, userID, commentID)
	observability.ObserveCommentOp("unlike", err)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventCommentLikeUpdated, map[string]interface{}{
		"post_id":     comment.PostID,
		"comment_id":  commentID,
		"likes_count": comment.LikesCount,
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.JSON(comment)
}

// postCommentsCount re-reads the post to report the authoritative top-level
// comment count in realtime events. Failures degrade to zero rather than
// failing the request that already succeeded.
func (s *Server) postCommentsCount(c *fiber.Ctx, postID, userID uint) int {
	post, err := s.postRepo.GetByID(c.UserContext(), postID, userID)
	if err != nil {
		return 0
	}
	return post.CommentsCount
}
