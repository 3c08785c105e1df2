package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

func GetUserID(c *fiber.Ctx) int64 {
	raw, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(raw, 10, 64)
	return userID
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPost), errors.Is(err, service.ErrUnsupportedContent):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrCredentialNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrCredentialInvalid), errors.Is(err, utils.ErrInvalidState):
		return fiber.StatusUnauthorized
	}
	return fiber.StatusInternalServerError
}

func errorJSON(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "something went wrong"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
