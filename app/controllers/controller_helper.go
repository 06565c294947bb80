package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/prolocal/prolocal/internal/pkg/apperr"
)

// renderError maps application errors onto the JSON error shape. Coded
// errors carry their own status; anything else is a 500 with the detail kept
// in the logs.
func renderError(c *fiber.Ctx, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		resp := fiber.Map{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if appErr.Limit > 0 {
			resp["limit"] = appErr.Limit
			resp["plan"] = appErr.Plan
		}
		return c.Status(appErr.HTTPCode).JSON(resp)
	}

	log.Printf("unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_server_error",
		"message": "Something went wrong",
	})
}
