package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/sirupsen/logrus"
)

type PostHandler struct {
	s     service.PostService
	media service.MediaStore
}

func NewPostHandler(s service.PostService, media service.MediaStore) *PostHandler {
	return &PostHandler{s: s, media: media}
}

// UploadMedia stores one file and returns the reference to schedule it with.
func (h *PostHandler) UploadMedia(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file selected",
		})
	}

	f, err := header.Open()
	if err != nil {
		logrus.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to read file",
		})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		logrus.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to read file",
		})
	}

	ref, err := h.media.Upload(c.Context(), GetUserID(c), data)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(ref)
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req transfer.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse body",
		})
	}
	req.UserID = GetUserID(c)

	collectionID, err := h.s.Schedule(c.Context(), &req)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":       "Post scheduled successfully",
		"collection_id": collectionID,
	})
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	collectionID, err := c.ParamsInt("id")
	if err != nil || collectionID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid collection id",
		})
	}

	if err := h.s.Remove(c.Context(), GetUserID(c), int64(collectionID)); err != nil {
		return errorJSON(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *PostHandler) History(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil || postID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid post id",
		})
	}

	history, err := h.s.History(c.Context(), int64(postID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(history)
}
