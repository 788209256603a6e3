package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags handles GET /api/flags. Returns every configured flag
// evaluated for the authenticated user, so clients can hide gated UI.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	flags := map[string]bool{}
	if s.flags != nil {
		flags = s.flags.Snapshot(userID)
	}
	return c.JSON(fiber.Map{"flags": flags})
}
