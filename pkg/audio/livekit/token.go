package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VideoGrant is the subset of LiveKit's grant object an agent needs to join a
// room and publish audio.
type VideoGrant struct {
	Room     string `json:"room"`
	RoomJoin bool   `json:"roomJoin"`
}

// Claims are the JWT claims of a LiveKit access token.
type Claims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Video VideoGrant `json:"video"`
}

// MintToken issues an HS256 access token that lets identity join room. The
// issuer is the API key and the token is valid from now until ttl elapses.
func MintToken(apiKey, apiSecret, room, identity string, ttl time.Duration) (string, error) {
	switch {
	case apiKey == "" || apiSecret == "":
		return "", errors.New("livekit: api key and secret must not be empty")
	case room == "" || identity == "":
		return "", errors.New("livekit: room and identity must not be empty")
	case ttl <= 0:
		return "", fmt.Errorf("livekit: token ttl must be positive, got %v", ttl)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  identity,
		Video: VideoGrant{Room: room, RoomJoin: true},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("livekit: sign token: %w", err)
	}
	return signed, nil
}
