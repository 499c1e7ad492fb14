package api

import (
	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/gofiber/fiber/v2"
)

type resolveReq struct {
	UserID string `json:"userId"`
}

func (h *handler) resolveConversation(c *fiber.Ctx) error {
	var req resolveReq
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid payload")
	}
	conv, err := h.svc.Conversations.Resolve(c.UserContext(), userID(c), req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (h *handler) listConversations(c *fiber.Ctx) error {
	convs, err := h.svc.Conversations.List(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversations": convs})
}

func (h *handler) getConversation(c *fiber.Ctx) error {
	conv, err := h.svc.Conversations.Get(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (h *handler) conversationMessages(c *fiber.Ctx) error {
	return h.history(c, models.ConversationRef(c.Params("id")))
}

func (h *handler) sendDirectMessage(c *fiber.Ctx) error {
	return h.send(c, models.ConversationRef(c.Params("id")))
}

func (h *handler) readConversation(c *fiber.Ctx) error {
	if err := h.svc.Conversations.MarkAllRead(c.UserContext(), c.Params("id"), userID(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) mute(c *fiber.Ctx) error   { return h.setMuted(c, true) }
func (h *handler) unmute(c *fiber.Ctx) error { return h.setMuted(c, false) }

func (h *handler) setMuted(c *fiber.Ctx, muted bool) error {
	if err := h.svc.Conversations.SetMuted(c.UserContext(), c.Params("id"), userID(c), muted); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"muted": muted})
}

func (h *handler) hideConversation(c *fiber.Ctx) error {
	if err := h.svc.Conversations.Hide(c.UserContext(), c.Params("id"), userID(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
