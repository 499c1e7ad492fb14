package api

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/auth"
	"github.com/fathima-sithara/sortie-chat/internal/ws"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const localIdentity = "identity"

// JWTAuth requires a bearer token and stores the caller's identity in Locals.
func JWTAuth(v ws.TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return apperr.Authentication("missing or malformed authorization header")
		}
		id, err := v.Validate(token)
		if err != nil {
			return apperr.Authentication("invalid token")
		}
		c.Locals(localIdentity, id)
		return c.Next()
	}
}

func identity(c *fiber.Ctx) auth.Identity {
	id, _ := c.Locals(localIdentity).(auth.Identity)
	return id
}

func userID(c *fiber.Ctx) string { return identity(c).UserID }

// RequireService admits only callers holding a service role token.
func RequireService() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !identity(c).IsService() {
			return apperr.Authorization("service credentials required")
		}
		return c.Next()
	}
}

// Timeout bounds the request context handlers pass down to the services.
func Timeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog(log *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = statusOf(apperr.KindOf(err))
			}
		}
		log.Debugw("http",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"user_id", userID(c),
			"took", time.Since(start),
		)
		return err
	}
}

// UserRateLimiter is a token bucket per caller, keyed by user id once
// authenticated and by client IP before that.
type UserRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	idle     time.Duration
	log      *zap.SugaredLogger
}

type visitor struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func NewUserRateLimiter(perMinute, burst int, log *zap.SugaredLogger) *UserRateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &UserRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		idle:  5 * time.Minute,
		log:   log,
	}
}

func (l *UserRateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	v, _ := l.visitors.LoadOrStore(key, &visitor{limiter: rate.NewLimiter(l.rps, l.burst)})
	vi := v.(*visitor)
	vi.mu.Lock()
	vi.lastSeen = now
	vi.mu.Unlock()
	return vi.limiter
}

// Run evicts idle visitors until ctx is done.
func (l *UserRateLimiter) Run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.sweep(now)
		}
	}
}

func (l *UserRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idle)
	l.visitors.Range(func(k, v any) bool {
		vi := v.(*visitor)
		vi.mu.Lock()
		stale := vi.lastSeen.Before(cutoff)
		vi.mu.Unlock()
		if stale {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *UserRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := userID(c)
		if key == "" {
			key = "ip:" + clientIP(c)
		}
		if !l.limiter(key, time.Now()).Allow() {
			l.log.Warnw("rate limit exceeded", "key", key, "path", c.Path())
			return apperr.RateLimited("rate limit exceeded")
		}
		return c.Next()
	}
}

func clientIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
