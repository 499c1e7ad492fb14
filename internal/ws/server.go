package ws

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/auth"
	"github.com/fathima-sithara/sortie-chat/internal/membership"
	"github.com/fathima-sithara/sortie-chat/internal/metrics"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"
	"go.uber.org/zap"
)

// Client to server event names.
const (
	cmdAuthenticate   = "authenticate"
	cmdJoinRoom       = "joinRoom"
	cmdLeaveRoom      = "leaveRoom"
	cmdSendMessage    = "sendMessage"
	cmdTyping         = "typing"
	cmdMarkAsRead     = "markAsRead"
	cmdDeleteMessage  = "deleteMessage"
	cmdGetOnlineUsers = "getOnlineUsers"
	cmdPollCreate     = "poll.create"
	cmdPollVote       = "poll.vote"
	cmdPollClose      = "poll.close"
)

// TokenValidator turns a bearer credential into an identity.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// Presence is the cross-instance view of who is online.
type Presence interface {
	Join(ctx context.Context, room, userID string) error
	Leave(ctx context.Context, room, userID string) error
	Online(ctx context.Context, room string) ([]string, error)
	Connected(ctx context.Context, userID, sessionID string) error
	Disconnected(ctx context.Context, userID, sessionID string) error
}

type Config struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	RequestTimeout time.Duration
	AuthTimeout    time.Duration
	SendBuffer     int
	RecentOnJoin   int
	RatePerMinute  int
	RateBurst      int
}

func (c *Config) defaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.RecentOnJoin <= 0 {
		c.RecentOnJoin = service.DefaultPageSize
	}
}

// Server runs websocket sessions against the domain services.
type Server struct {
	cfg      Config
	hub      *Hub
	auth     TokenValidator
	svc      *service.Services
	members  *membership.Store
	presence Presence
	log      *zap.SugaredLogger
}

func NewServer(cfg Config, hub *Hub, v TokenValidator, svc *service.Services, members *membership.Store, presence Presence, log *zap.SugaredLogger) *Server {
	cfg.defaults()
	s := &Server{cfg: cfg, hub: hub, auth: v, svc: svc, members: members, presence: presence, log: log}
	hub.onEvict = s.evicted
	return s
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type connectedPayload struct {
	UserID string `json:"userId"`
}

type roomPayload struct {
	RoomID   string          `json:"roomId"`
	RoomType models.RoomKind `json:"roomType,omitempty"`
}

type joinedPayload struct {
	RoomID         string            `json:"roomId"`
	RoomType       models.RoomKind   `json:"roomType"`
	RecentMessages []*models.Message `json:"recentMessages"`
}

type onlinePayload struct {
	RoomID  string   `json:"roomId"`
	UserIDs []string `json:"userIds"`
}

type typingPayload struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type sentPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type roomArgs struct {
	RoomID   string `json:"roomId"`
	RoomType string `json:"roomType"`
}

func (a roomArgs) ref() (models.RoomRef, error) {
	if a.RoomID == "" {
		return models.RoomRef{}, apperr.Validation("roomId is required")
	}
	kind, ok := models.ParseRoomKind(a.RoomType)
	if !ok {
		return models.RoomRef{}, apperr.Validation("unknown roomType %q", a.RoomType)
	}
	return models.RoomRef{Kind: kind, ID: a.RoomID}, nil
}

type authArgs struct {
	Token string `json:"token"`
}

type sendArgs struct {
	roomArgs
	service.SendInput
}

type typingArgs struct {
	roomArgs
	IsTyping bool `json:"isTyping"`
}

type messageArgs struct {
	roomArgs
	MessageID string `json:"messageId"`
}

type pollCreateArgs struct {
	RoomID string            `json:"roomId"`
	Poll   service.PollInput `json:"poll"`
}

type pollVoteArgs struct {
	PollID    string   `json:"pollId"`
	OptionIDs []string `json:"optionIds"`
}

type pollArgs struct {
	PollID string `json:"pollId"`
}

// Serve runs one connection until it closes. token is the credential found
// on the upgrade request, if any; without one the first event must be
// authenticate.
func (srv *Server) Serve(conn Transport, token string) {
	var limiter *rate.Limiter
	if srv.cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(srv.cfg.RatePerMinute)/60.0), max(srv.cfg.RateBurst, 1))
	}
	s := newSession(conn, srv.cfg.SendBuffer, limiter, srv.log)
	metrics.Connections.Inc()
	go s.writePump(srv.cfg.PingInterval, srv.cfg.WriteDeadline)
	defer srv.close(s)

	if token != "" {
		if !srv.authenticate(s, token) {
			return
		}
	} else {
		timer := time.AfterFunc(srv.cfg.AuthTimeout, func() {
			if _, ok := s.Identity(); !ok {
				srv.fail(s, apperr.Authentication("authentication timed out"))
			}
		})
		defer timer.Stop()
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
			srv.reply(s, service.EventError, errorPayload{Message: "malformed frame", Code: string(apperr.KindValidation)})
			continue
		}
		if !srv.handle(s, in) {
			return
		}
	}
}

// handle processes one inbound event. It reports false when the connection
// must close.
func (srv *Server) handle(s *Session, in inbound) bool {
	if in.Event == cmdAuthenticate {
		var args authArgs
		if err := json.Unmarshal(in.Data, &args); err != nil {
			srv.fail(s, apperr.Authentication("token is required"))
			return false
		}
		return srv.authenticate(s, args.Token)
	}
	id, ok := s.Identity()
	if !ok {
		srv.fail(s, apperr.Authentication("authenticate first"))
		return false
	}
	if s.limiter != nil && !s.limiter.Allow() {
		srv.sendErr(s, apperr.RateLimited("too many events"))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout)
	defer cancel()
	err := srv.dispatch(ctx, s, id.UserID, in)
	if err == nil {
		return true
	}
	if apperr.KindOf(err) == apperr.KindAuthentication {
		srv.fail(s, err)
		return false
	}
	srv.sendErr(s, err)
	return true
}

func (srv *Server) dispatch(ctx context.Context, s *Session, userID string, in inbound) error {
	switch in.Event {
	case cmdJoinRoom:
		var args roomArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		return srv.join(ctx, s, userID, args)

	case cmdLeaveRoom:
		var args roomArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		room, err := args.ref()
		if err != nil {
			return err
		}
		if srv.hub.Unsubscribe(room, s) {
			srv.presenceLeave(room.Key(), userID)
			srv.broadcastOnline(ctx, room)
		}
		srv.reply(s, service.EventLeftRoom, roomPayload{RoomID: room.ID, RoomType: room.Kind})
		return nil

	case cmdSendMessage:
		var args sendArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		room, err := args.ref()
		if err != nil {
			return err
		}
		m, err := srv.svc.Messages.Send(ctx, room, userID, args.SendInput)
		if err != nil {
			return err
		}
		srv.reply(s, service.EventMessageSent, sentPayload{MessageID: m.ID, RoomID: room.ID})
		return nil

	case cmdTyping:
		var args typingArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		room, err := args.ref()
		if err != nil {
			return err
		}
		if err := srv.members.Authorize(ctx, room, userID); err != nil {
			return err
		}
		srv.hub.Broadcast(room, service.EventUserTyping, typingPayload{UserID: userID, RoomID: room.ID, IsTyping: args.IsTyping}, userID)
		return nil

	case cmdMarkAsRead:
		var args messageArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		if args.MessageID == "" {
			return apperr.Validation("messageId is required")
		}
		kind, ok := models.ParseRoomKind(args.RoomType)
		if !ok {
			return apperr.Validation("unknown roomType %q", args.RoomType)
		}
		_, err := srv.svc.Messages.MarkRead(ctx, kind, args.MessageID, userID)
		return err

	case cmdDeleteMessage:
		var args messageArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		if args.MessageID == "" {
			return apperr.Validation("messageId is required")
		}
		kind, ok := models.ParseRoomKind(args.RoomType)
		if !ok {
			return apperr.Validation("unknown roomType %q", args.RoomType)
		}
		_, err := srv.svc.Messages.SoftDelete(ctx, kind, args.MessageID, userID)
		return err

	case cmdGetOnlineUsers:
		var args roomArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		room, err := args.ref()
		if err != nil {
			return err
		}
		if err := srv.members.Authorize(ctx, room, userID); err != nil {
			return err
		}
		srv.reply(s, service.EventOnlineUsers, onlinePayload{RoomID: room.ID, UserIDs: srv.Online(ctx, room)})
		return nil

	case cmdPollCreate:
		var args pollCreateArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		if args.RoomID == "" {
			return apperr.Validation("roomId is required")
		}
		_, m, err := srv.svc.Polls.Create(ctx, args.RoomID, userID, args.Poll)
		if err != nil {
			return err
		}
		srv.reply(s, service.EventMessageSent, sentPayload{MessageID: m.ID, RoomID: args.RoomID})
		return nil

	case cmdPollVote:
		var args pollVoteArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		_, err := srv.svc.Polls.Vote(ctx, args.PollID, userID, args.OptionIDs)
		return err

	case cmdPollClose:
		var args pollArgs
		if err := decode(in.Data, &args); err != nil {
			return err
		}
		_, err := srv.svc.Polls.Close(ctx, args.PollID, userID)
		return err
	}
	return apperr.Validation("unknown event %q", in.Event)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("malformed data: %v", err)
	}
	return nil
}

func (srv *Server) join(ctx context.Context, s *Session, userID string, args roomArgs) error {
	room, err := args.ref()
	if err != nil {
		return err
	}
	if err := srv.members.Authorize(ctx, room, userID); err != nil {
		return err
	}
	recent, err := srv.svc.Messages.Recent(ctx, room, userID, srv.cfg.RecentOnJoin)
	if err != nil {
		return err
	}
	added := srv.hub.Subscribe(room, s)
	srv.reply(s, service.EventJoinedRoom, joinedPayload{RoomID: room.ID, RoomType: room.Kind, RecentMessages: recent})
	if added {
		if srv.presence != nil {
			if err := srv.presence.Join(ctx, room.Key(), userID); err != nil {
				srv.log.Warnw("presence join failed", "room", room.Key(), "user_id", userID, "err", err)
			}
		}
		srv.broadcastOnline(ctx, room)
	}
	return nil
}

// Online merges this instance's subscribers with the shared presence set.
func (srv *Server) Online(ctx context.Context, room models.RoomRef) []string {
	local := srv.hub.Online(room)
	if srv.presence == nil {
		return local
	}
	shared, err := srv.presence.Online(ctx, room.Key())
	if err != nil {
		srv.log.Warnw("presence lookup failed", "room", room.Key(), "err", err)
		return local
	}
	seen := make(map[string]struct{}, len(local)+len(shared))
	for _, id := range append(local, shared...) {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (srv *Server) broadcastOnline(ctx context.Context, room models.RoomRef) {
	srv.hub.Broadcast(room, service.EventOnlineUsers, onlinePayload{RoomID: room.ID, UserIDs: srv.Online(ctx, room)}, "")
}

// authenticate binds the token's identity to s. A session keeps its first
// identity; a token for anybody else closes it.
func (srv *Server) authenticate(s *Session, token string) bool {
	id, err := srv.auth.Validate(token)
	if err != nil {
		srv.fail(s, apperr.Authentication("invalid token"))
		return false
	}
	if current, ok := s.Identity(); ok {
		if current.UserID != id.UserID {
			srv.log.Warnw("session identity mismatch", "session", s.ID(), "user_id", current.UserID, "token_user_id", id.UserID)
			srv.fail(s, apperr.Authentication("connection is bound to another user"))
			return false
		}
		srv.reply(s, service.EventConnected, connectedPayload{UserID: id.UserID})
		return true
	}
	s.bind(id)
	if srv.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout)
		if err := srv.presence.Connected(ctx, id.UserID, s.ID()); err != nil {
			srv.log.Warnw("presence connect failed", "user_id", id.UserID, "err", err)
		}
		cancel()
	}
	srv.log.Infow("ws session authenticated", "session", s.ID(), "user_id", id.UserID)
	srv.reply(s, service.EventConnected, connectedPayload{UserID: id.UserID})
	return true
}

func (srv *Server) reply(s *Session, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		srv.log.Errorw("encode reply failed", "event", event, "err", err)
		return
	}
	s.Send(frame)
}

func (srv *Server) sendErr(s *Session, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		srv.log.Errorw("ws operation failed", "session", s.ID(), "user_id", s.UserID(), "err", err)
	}
	srv.reply(s, service.EventError, errorPayload{Message: apperr.MessageOf(err), Code: string(kind)})
}

// fail sends the error and closes the session once it is flushed.
func (srv *Server) fail(s *Session, err error) {
	srv.sendErr(s, err)
	s.shutdown()
}

func (srv *Server) evicted(key string, s *Session) {
	srv.presenceLeave(key, s.UserID())
}

func (srv *Server) presenceLeave(key, userID string) {
	if srv.presence == nil || userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout)
	defer cancel()
	if err := srv.presence.Leave(ctx, key, userID); err != nil {
		srv.log.Warnw("presence leave failed", "room", key, "user_id", userID, "err", err)
	}
}

func (srv *Server) close(s *Session) {
	userID := s.UserID()
	for _, key := range srv.hub.UnsubscribeAll(s) {
		srv.presenceLeave(key, userID)
		if room, ok := models.ParseRoomKey(key); ok {
			ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout)
			srv.broadcastOnline(ctx, room)
			cancel()
		}
	}
	if srv.presence != nil && userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout)
		if err := srv.presence.Disconnected(ctx, userID, s.ID()); err != nil {
			srv.log.Warnw("presence disconnect failed", "user_id", userID, "err", err)
		}
		cancel()
	}
	s.shutdown()
	<-s.done
	metrics.Connections.Dec()
	srv.log.Debugw("ws session closed", "session", s.ID(), "user_id", userID)
}
