package ws

import (
	"sync"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/auth"
	"github.com/fathima-sithara/sortie-chat/internal/metrics"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"go.uber.org/zap"
)

// Transport is the part of a websocket connection a session uses.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one client connection. The reader goroutine owns inbound
// handling; writePump is the only writer to the transport.
type Session struct {
	id      string
	conn    Transport
	send    chan []byte
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	identity auth.Identity
	authed   bool
}

func newSession(conn Transport, buffer int, limiter *rate.Limiter, log *zap.SugaredLogger) *Session {
	if buffer <= 0 {
		buffer = 256
	}
	return &Session{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		limiter: limiter,
		log:     log,
	}
}

func (s *Session) ID() string { return s.id }

// UserID is empty until the session authenticates.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.UserID
}

func (s *Session) Identity() (auth.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.authed
}

func (s *Session) bind(id auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.authed = true
}

// Send queues a frame without blocking. A full buffer drops the frame.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		metrics.DroppedFrames.Inc()
		s.log.Debugw("send buffer full, frame dropped", "session", s.id, "user_id", s.UserID())
		return false
	}
}

// shutdown asks writePump to flush queued frames and close the transport.
func (s *Session) shutdown() {
	s.once.Do(func() { close(s.quit) })
}

func (s *Session) write(mt int, data []byte, deadline time.Duration) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(deadline))
	return s.conn.WriteMessage(mt, data)
}

func (s *Session) writePump(ping, deadline time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.done)
	}()
	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame, deadline); err != nil {
				s.log.Debugw("ws write failed", "session", s.id, "err", err)
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, []byte{}, deadline); err != nil {
				s.log.Debugw("ws ping failed", "session", s.id, "err", err)
				return
			}
		case <-s.quit:
			for {
				select {
				case frame := <-s.send:
					if err := s.write(websocket.TextMessage, frame, deadline); err != nil {
						return
					}
				default:
					_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
					return
				}
			}
		}
	}
}
