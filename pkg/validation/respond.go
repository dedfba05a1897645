package validation

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aldoetobex/weka-backend/pkg/models"
)

// Respond writes a 400 with the itemised field messages.
func Respond(c *fiber.Ctx, code string, errs map[string][]string) error {
	if code == "" {
		code = "VALIDATION_FAILED"
	}
	return c.Status(fiber.StatusBadRequest).JSON(models.ValidationErrorResponse{
		Error:  "Validation failed",
		Code:   code,
		Errors: errs,
	})
}
