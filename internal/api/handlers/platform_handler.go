package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/sirupsen/logrus"
)

type PlatformHandler struct {
	oauth service.OAuthService
	cfg   config.Config
}

func NewPlatformHandler(oauth service.OAuthService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{
		oauth: oauth,
		cfg:   cfg,
	}
}

func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	authURL, err := h.oauth.AuthURL(c.Context(), userID, models.Provider(c.Params("provider")))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Redirect(authURL)
}

func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	credentials, err := h.oauth.Callback(c.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		logrus.WithField("provider", c.Params("provider")).Info(err.Error())
		return errorJSON(c, err)
	}

	logrus.WithFields(logrus.Fields{"provider": c.Params("provider"), "accounts": len(credentials)}).Info("accounts connected")
	redirectURL := fmt.Sprintf("%s/dashboard/accounts", h.cfg.FrontendURL)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

// SaveXAccount stores OAuth 1.0a tokens the user obtained from X directly.
func (h *PlatformHandler) SaveXAccount(c *fiber.Ctx) error {
	var req transfer.XCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse body",
		})
	}
	req.UserID = GetUserID(c)

	credential, err := h.oauth.SaveXCredential(c.Context(), &req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(credential)
}
