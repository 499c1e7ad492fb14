package api

import (
	"errors"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuthentication:
		return fiber.StatusUnauthorized
	case apperr.KindAuthorization:
		return fiber.StatusForbidden
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindConflict:
		return fiber.StatusConflict
	case apperr.KindRateLimited:
		return fiber.StatusTooManyRequests
	case apperr.KindTransient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// errorHandler renders every failed request as {"error", "code"}.
func errorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": codeOf(fe.Code)})
		}
		kind := apperr.KindOf(err)
		status := statusOf(kind)
		if status >= fiber.StatusInternalServerError {
			log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		}
		return c.Status(status).JSON(fiber.Map{"error": apperr.MessageOf(err), "code": string(kind)})
	}
}

func codeOf(status int) string {
	switch status {
	case fiber.StatusUnauthorized:
		return string(apperr.KindAuthentication)
	case fiber.StatusForbidden:
		return string(apperr.KindAuthorization)
	case fiber.StatusNotFound:
		return string(apperr.KindNotFound)
	case fiber.StatusTooManyRequests:
		return string(apperr.KindRateLimited)
	case fiber.StatusServiceUnavailable:
		return string(apperr.KindTransient)
	}
	if status < fiber.StatusInternalServerError {
		return string(apperr.KindValidation)
	}
	return string(apperr.KindInternal)
}
