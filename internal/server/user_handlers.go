package server

import (
	"popbucks/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetMyProfile returns the authenticated user's profile
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	user, err := s.userRepo.GetByID(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	return c.JSON(user)
}

// GetUserProfile returns a user's public profile by ID
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	user, err := s.userRepo.GetByID(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithError(c, appErrorStatus(err), err)
	}

	// Public view never exposes the email address.
	user.Email = ""
	return c.JSON(user)
}
