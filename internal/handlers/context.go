package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Uriel-Ondo/agro/internal/models"
)

func parseUserID(c *fiber.Ctx) (int64, error) {
	userIDValue := c.Locals("user_id")
	userIDStr, ok := userIDValue.(string)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(userIDStr, 10, 64)
}

var errUnknownRole = errors.New("unknown role")

// actor returns the caller's id and role from the auth middleware locals.
func actor(c *fiber.Ctx) (int64, string, error) {
	role, _ := c.Locals("role").(string)
	if role != models.RoleFarmer && role != models.RoleExpert {
		return 0, "", errUnknownRole
	}
	userID, err := parseUserID(c)
	if err != nil {
		return 0, "", err
	}
	return userID, role, nil
}

func rejectActor(c *fiber.Ctx, err error) error {
	if errors.Is(err, errUnknownRole) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
}

func parseIDParam(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseOptionalID(raw string) (*int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

func bearerToken(c *fiber.Ctx) string {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token
	}
	parts := strings.Split(strings.TrimSpace(c.Get("Authorization")), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}
