package api

import (
	"context"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/metrics"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"github.com/fathima-sithara/sortie-chat/internal/storage"
	"github.com/fathima-sithara/sortie-chat/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

type Deps struct {
	Services  *service.Services
	Realtime  *ws.Server
	Validator ws.TokenValidator
	Media     *storage.MediaUploader // nil when uploads are disabled
	Limiter   *UserRateLimiter       // nil disables REST rate limiting
	Log       *zap.SugaredLogger

	RequestTimeout time.Duration
	MaxFrameBytes  int64
	BodyLimit      int
	// Ready reports backing store health on /health.
	Ready func(ctx context.Context) error
}

type handler struct {
	svc      *service.Services
	realtime *ws.Server
	media    *storage.MediaUploader
	log      *zap.SugaredLogger
}

// NewApp builds the HTTP surface: REST under /v1, the websocket endpoint at
// /v1/ws and the unauthenticated /health and /metrics.
func NewApp(d Deps) *fiber.App {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 5 * time.Second
	}
	if d.BodyLimit <= 0 {
		d.BodyLimit = 25 << 20
	}
	app := fiber.New(fiber.Config{
		AppName:               "sortie-chat",
		BodyLimit:             d.BodyLimit,
		ErrorHandler:          errorHandler(d.Log),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(AccessLog(d.Log))

	h := &handler{svc: d.Services, realtime: d.Realtime, media: d.Media, log: d.Log}

	app.Get("/health", func(c *fiber.Ctx) error {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// The socket authenticates itself, so it goes in before the JWT group.
	app.Use("/v1/ws", upgrade)
	app.Get("/v1/ws", h.websocket(d.MaxFrameBytes))

	v1 := app.Group("/v1", JWTAuth(d.Validator), Timeout(d.RequestTimeout))
	if d.Limiter != nil {
		v1.Use(d.Limiter.Handler())
	}

	// Chat lifecycle and membership belong to the activity service.
	serviceOnly := RequireService()

	v1.Get("/chats", h.listChats)
	v1.Post("/chats", serviceOnly, h.createChat)
	v1.Get("/chats/activity/:activityId", h.chatByActivity)
	v1.Delete("/chats/activity/:activityId", serviceOnly, h.deleteChat)
	v1.Post("/chats/activity/:activityId/participants", serviceOnly, h.participation)
	v1.Get("/chats/:id", h.getChat)
	v1.Get("/chats/:id/members", h.chatMembers)
	v1.Get("/chats/:id/online", h.chatOnline)
	v1.Get("/chats/:id/messages", h.chatMessages)
	v1.Post("/chats/:id/messages", h.sendChatMessage)
	v1.Post("/chats/:id/polls", h.createPoll)
	v1.Get("/chats/:id/polls", h.listPolls)

	v1.Delete("/messages/:id", h.deleteChatMessage)
	v1.Post("/messages/:id/read", h.readChatMessage)

	v1.Post("/conversations", h.resolveConversation)
	v1.Get("/conversations", h.listConversations)
	v1.Get("/conversations/:id", h.getConversation)
	v1.Get("/conversations/:id/messages", h.conversationMessages)
	v1.Post("/conversations/:id/messages", h.sendDirectMessage)
	v1.Post("/conversations/:id/read", h.readConversation)
	v1.Post("/conversations/:id/mute", h.mute)
	v1.Delete("/conversations/:id/mute", h.unmute)
	v1.Delete("/conversations/:id", h.hideConversation)
	v1.Delete("/direct-messages/:id", h.deleteDirectMessage)
	v1.Post("/direct-messages/:id/read", h.readDirectMessage)

	v1.Get("/polls/:id", h.getPoll)
	v1.Post("/polls/:id/votes", h.vote)
	v1.Post("/polls/:id/close", h.closePoll)

	v1.Post("/media", h.uploadMedia)

	return app
}
