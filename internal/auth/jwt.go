package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	// RoleService is carried by tokens the activity service uses to drive
	// chat lifecycle and participation.
	RoleService Role = "service"
)

// Identity is the authenticated principal bound to a request or connection.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role,omitempty"`
}

func (i Identity) IsService() bool { return i.Role == RoleService }

// Claims accepts the id claim under any of the names the auth service has
// issued over time.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	UserUUID string `json:"user_uuid,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() (Identity, error) {
	id := c.UserID
	if id == "" {
		id = c.UserUUID
	}
	if id == "" {
		id = c.Subject
	}
	if id == "" {
		return Identity{}, fmt.Errorf("%w: user id not found in token", ErrInvalidToken)
	}
	if !models.ValidUserID(id) {
		return Identity{}, fmt.Errorf("%w: malformed user id", ErrInvalidToken)
	}
	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: id, Email: c.Email, Role: role}, nil
}

// Validator verifies HS256 or RS256 access tokens.
type Validator struct {
	secret []byte
	pub    *rsa.PublicKey
	parser *jwt.Parser
}

func NewHS256Validator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt: empty HS256 secret")
	}
	return &Validator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()),
	}, nil
}

func NewRS256Validator(pubPath string) (*Validator, error) {
	b, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, err
	}
	return &Validator{
		pub:    pub,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired()),
	}, nil
}

// NewValidator picks the validator for alg ("HS256" or "RS256").
func NewValidator(alg, secret, pubPath string) (*Validator, error) {
	switch strings.ToUpper(alg) {
	case "", "HS256":
		return NewHS256Validator(secret)
	case "RS256":
		return NewRS256Validator(pubPath)
	}
	return nil, fmt.Errorf("jwt: unsupported alg %q", alg)
}

func (v *Validator) Validate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims := &Claims{}
	t, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if v.pub != nil {
			return v.pub, nil
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return Identity{}, ErrInvalidToken
	}
	return claims.identity()
}

// ParseBearerToken extracts the token from an Authorization header value.
func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}
