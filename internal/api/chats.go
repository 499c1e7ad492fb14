package api

import (
	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"github.com/gofiber/fiber/v2"
)

func (h *handler) listChats(c *fiber.Ctx) error {
	chats, err := h.svc.Chats.ListChats(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"chats": chats})
}

// createChat is called by the activity service when an activity is created.
// The creator named in the body becomes the first member.
func (h *handler) createChat(c *fiber.Ctx) error {
	var in service.CreateChatInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("invalid payload")
	}
	chat, err := h.svc.Chats.CreateForActivity(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(chat)
}

func (h *handler) getChat(c *fiber.Ctx) error {
	chat, err := h.svc.Chats.Get(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(chat)
}

func (h *handler) chatByActivity(c *fiber.Ctx) error {
	chat, err := h.svc.Chats.GetByActivity(c.UserContext(), c.Params("activityId"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(chat)
}

func (h *handler) deleteChat(c *fiber.Ctx) error {
	if err := h.svc.Chats.DeleteForActivity(c.UserContext(), c.Params("activityId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type participationReq struct {
	UserID string                      `json:"userId"`
	Status service.ParticipationStatus `json:"status"`
}

func (h *handler) participation(c *fiber.Ctx) error {
	var req participationReq
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid payload")
	}
	activityID := c.Params("activityId")
	if err := h.svc.Chats.VerifyParticipation(c.UserContext(), activityID, req.UserID, req.Status); err != nil {
		return err
	}
	changed, err := h.svc.Chats.ApplyParticipation(c.UserContext(), activityID, req.UserID, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"changed": changed})
}

func (h *handler) chatMembers(c *fiber.Ctx) error {
	members, err := h.svc.Chats.ListMembers(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"members": members})
}

func (h *handler) chatOnline(c *fiber.Ctx) error {
	chat, err := h.svc.Chats.Get(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"roomId": chat.ID, "userIds": h.realtime.Online(c.UserContext(), models.ChatRef(chat.ID))})
}
