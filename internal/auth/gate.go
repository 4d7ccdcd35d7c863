package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/pkg/errors"
)

const tokenSeparator = "|"

type Config struct {
	AdminUsername string
	AdminPassword string
	SessionSecret string
}

// Principal is the authenticated admin behind a verified session token.
type Principal struct {
	Identity string
}

// Gate issues and verifies stateless admin session tokens of the form
// "<identity>|<hex(HMAC-SHA256(secret, identity))>".
type Gate struct {
	username string
	password string
	secret   []byte
}

func New(cfg Config) (*Gate, error) {
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret is required")
	}
	if cfg.AdminUsername == "" {
		return nil, errors.New("admin username is required")
	}
	return &Gate{
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		secret:   []byte(cfg.SessionSecret),
	}, nil
}

func (g *Gate) Issue(identity, password string) (string, error) {
	// Сравниваем оба поля, чтобы время ответа не выдавало, какое из них неверное.
	userOK := constantTimeEqual(identity, g.username)
	passOK := constantTimeEqual(password, g.password)
	if !userOK || !passOK {
		return "", models.ErrUnauthorized
	}
	return identity + tokenSeparator + g.sign(identity), nil
}

func (g *Gate) Verify(token string) (Principal, error) {
	identity, sig, ok := strings.Cut(token, tokenSeparator)
	if !ok {
		return Principal{}, models.ErrUnauthorized
	}
	if !constantTimeEqual(identity, g.username) {
		return Principal{}, models.ErrUnauthorized
	}
	if !hmac.Equal([]byte(sig), []byte(g.sign(identity))) {
		return Principal{}, models.ErrUnauthorized
	}
	return Principal{Identity: identity}, nil
}

func (g *Gate) sign(value string) string {
	mac := hmac.New(sha256.New, g.secret)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func constantTimeEqual(left, right string) bool {
	return subtle.ConstantTimeCompare([]byte(left), []byte(right)) == 1
}
