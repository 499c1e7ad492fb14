package api

import (
	"github.com/fathima-sithara/sortie-chat/internal/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const localWSToken = "ws_token"

// upgrade rejects plain HTTP on the socket path and captures any credential
// sent with the handshake, from the Authorization header or ?token=.
func upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if t, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization)); err == nil {
		token = t
	}
	c.Locals(localWSToken, token)
	return c.Next()
}

func (h *handler) websocket(maxFrame int64) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		if maxFrame > 0 {
			conn.SetReadLimit(maxFrame)
		}
		token, _ := conn.Locals(localWSToken).(string)
		h.realtime.Serve(conn, token)
	})
}
