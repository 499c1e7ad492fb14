package api

import (
	"io"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/gofiber/fiber/v2"
)

func (h *handler) uploadMedia(c *fiber.Ctx) error {
	if h.media == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "media uploads are disabled")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.Validation("multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return apperr.Validation("unreadable upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return apperr.Validation("unreadable upload")
	}
	out, err := h.media.Upload(c.UserContext(), userID(c), fh.Filename, fh.Header.Get(fiber.HeaderContentType), data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}
