package server

import (
	"time"

	"popbucks/internal/models"
	"popbucks/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePost creates a new post (protected)
func (s *Server) CreatePost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	var req struct {
		Content  string `json:"content"`
		ImageURL string `json:"image_url"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	created, err := s.postService.CreatePost(ctx, service.CreatePostInput{
		UserID:   userID,
		Content:  req.Content,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventPostCreated, map[string]interface{}{
		"post":       created,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetPosts returns posts ordered newest first (public)
func (s *Server) GetPosts(c *fiber.Ctx) error {
	ctx := c.UserContext()
	page := parsePagination(c, 20)

	// Unauthenticated browsing gets liked=false everywhere.
	currentUserID := uint(0)
	if id, ok := c.Locals("userID").(uint); ok {
		currentUserID = id
	}

	posts, err := s.postService.ListPosts(ctx, page.Limit, page.Offset, currentUserID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	return c.JSON(posts)
}

// GetPost returns a single post by ID (public)
func (s *Server) GetPost(c *fiber.Ctx) error {
	ctx := c.UserContext()

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	currentUserID := uint(0)
	if id, ok := c.Locals("userID").(uint); ok {
		currentUserID = id
	}

	post, err := s.postService.GetPost(ctx, postID, currentUserID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	return c.JSON(post)
}

// UpdatePost updates a post (owner only)
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content  string `json:"content"`
		ImageURL string `json:"image_url"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	updated, err := s.postService.UpdatePost(ctx, service.UpdatePostInput{
		UserID:   userID,
		PostID:   postID,
		Content:  req.Content,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	return c.JSON(updated)
}

// DeletePost deletes a post (owner only)
func (s *Server) DeletePost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.postService.DeletePost(ctx, userID, postID); err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventPostDeleted, map[string]interface{}{
		"post_id":    postID,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.SendStatus(fiber.StatusOK)
}

// LikePost records the user's like on a post (protected).
// Liking an already-liked post is a no-op that still returns 200.
func (s *Server) LikePost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	post, err := s.postService.LikePost(ctx, userID, postID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventPostLikeUpdated, map[string]interface{}{
		"post_id":     postID,
		"likes_count": post.LikesCount,
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.JSON(post)
}

// UnlikePost removes the user's like on a post (protected).
// Unliking a never-liked post is a no-op that still returns 200.
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	post, err := s.postService.UnlikePost(ctx, userID, postID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	s.publishBroadcastEvent(EventPostLikeUpdated, map[string]interface{}{
		"post_id":     postID,
		"likes_count": post.LikesCount,
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	})

	return c.JSON(post)
}
