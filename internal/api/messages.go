package api

import (
	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"github.com/gofiber/fiber/v2"
)

// listQuery reads the history cursor from beforeCursor; before is accepted
// for older clients.
func listQuery(c *fiber.Ctx) service.ListQuery {
	before := c.Query("beforeCursor")
	if before == "" {
		before = c.Query("before")
	}
	return service.ListQuery{
		Limit:  c.QueryInt("limit", 0),
		Before: before,
		Page:   c.QueryInt("page", 1),
	}
}

func (h *handler) history(c *fiber.Ctx, room models.RoomRef) error {
	page, err := h.svc.Messages.List(c.UserContext(), room, userID(c), listQuery(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *handler) send(c *fiber.Ctx, room models.RoomRef) error {
	var in service.SendInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("invalid payload")
	}
	m, err := h.svc.Messages.Send(c.UserContext(), room, userID(c), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

func (h *handler) markRead(c *fiber.Ctx, kind models.RoomKind) error {
	m, err := h.svc.Messages.MarkRead(c.UserContext(), kind, c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (h *handler) softDelete(c *fiber.Ctx, kind models.RoomKind) error {
	m, err := h.svc.Messages.SoftDelete(c.UserContext(), kind, c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (h *handler) chatMessages(c *fiber.Ctx) error {
	return h.history(c, models.ChatRef(c.Params("id")))
}

func (h *handler) sendChatMessage(c *fiber.Ctx) error {
	return h.send(c, models.ChatRef(c.Params("id")))
}

func (h *handler) readChatMessage(c *fiber.Ctx) error   { return h.markRead(c, models.RoomChat) }
func (h *handler) deleteChatMessage(c *fiber.Ctx) error { return h.softDelete(c, models.RoomChat) }

func (h *handler) readDirectMessage(c *fiber.Ctx) error {
	return h.markRead(c, models.RoomConversation)
}

func (h *handler) deleteDirectMessage(c *fiber.Ctx) error {
	return h.softDelete(c, models.RoomConversation)
}
