package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// Register mounts every route. api is expected to carry the auth middleware.
func Register(app *fiber.App, api fiber.Router, ops *OpsHandler, platform *PlatformHandler, post *PostHandler) {
	app.Get("/healthz", ops.Health)
	app.Get("/pool/stats", ops.PoolStats)

	app.Get("/auth/:provider/callback", platform.CallbackHandler)

	api.Get("/auth/:provider", platform.AddSocialAccount)
	api.Post("/accounts/x", platform.SaveXAccount)

	api.Post("/media", post.UploadMedia)
	api.Post("/posts", post.CreatePost)
	api.Delete("/posts/:id", post.RemovePost)
	api.Get("/posts/:id/history", post.History)
}
