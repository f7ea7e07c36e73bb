package ws

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 12 * time.Hour

// Identity is what a verified connection token asserts about its holder.
type Identity struct {
	Participant string
	// Room restricts the token to one room when set.
	Room string
}

// Tokens signs and verifies HS256 participant tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (t *Tokens) Issue(id Identity) (string, error) {
	if id.Participant == "" {
		return "", errors.New("participant is required")
	}
	now := t.now()
	claims := jwt.MapClaims{
		"sub": id.Participant,
		"iat": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}
	if id.Room != "" {
		claims["room"] = id.Room
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	participant, _ := claims["sub"].(string)
	if participant == "" {
		return Identity{}, errors.New("invalid sub claim")
	}
	roomID, _ := claims["room"].(string)
	return Identity{Participant: participant, Room: roomID}, nil
}
