package api

import (
	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"github.com/gofiber/fiber/v2"
)

func (h *handler) createPoll(c *fiber.Ctx) error {
	var in service.PollInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("invalid payload")
	}
	poll, msg, err := h.svc.Polls.Create(c.UserContext(), c.Params("id"), userID(c), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"poll": poll, "message": msg})
}

func (h *handler) listPolls(c *fiber.Ctx) error {
	page, err := h.svc.Polls.List(c.UserContext(), c.Params("id"), userID(c), c.QueryInt("page", 1), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *handler) getPoll(c *fiber.Ctx) error {
	poll, err := h.svc.Polls.Get(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(poll)
}

type voteReq struct {
	OptionIDs []string `json:"optionIds"`
}

func (h *handler) vote(c *fiber.Ctx) error {
	var req voteReq
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid payload")
	}
	poll, err := h.svc.Polls.Vote(c.UserContext(), c.Params("id"), userID(c), req.OptionIDs)
	if err != nil {
		return err
	}
	return c.JSON(poll)
}

func (h *handler) closePoll(c *fiber.Ctx) error {
	poll, err := h.svc.Polls.Close(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(poll)
}
