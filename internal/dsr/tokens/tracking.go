package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	trackingTokenType = "dsr_tracking"
	trackingIssuer    = "privacyhub"
)

// ErrInvalidTrackingToken covers every parse failure. Callers must not tell the
// cases apart in responses.
var ErrInvalidTrackingToken = errors.New("invalid tracking token")

// TrackingClaims are carried by a tracking token. The subject is the request ID.
type TrackingClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// TrackingIssuer signs and parses HS256 tracking tokens. Parsing never consumes
// anything; a token stays valid until it expires.
type TrackingIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

func NewTrackingIssuer(signingKey string, ttl time.Duration) *TrackingIssuer {
	return &TrackingIssuer{signingKey: []byte(signingKey), ttl: ttl}
}

// Issue signs a tracking token for requestID valid from now for the issuer's TTL.
func (i *TrackingIssuer) Issue(requestID uuid.UUID, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TrackingClaims{
		Type: trackingTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   requestID.String(),
			Issuer:    trackingIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign tracking token: %w", err)
	}
	return signed, nil
}

// Parse validates raw at now and returns the request ID it tracks.
func (i *TrackingIssuer) Parse(raw string, now time.Time) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, ErrInvalidTrackingToken
	}
	claims := &TrackingClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(trackingIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return uuid.Nil, ErrInvalidTrackingToken
	}
	if claims.Type != trackingTokenType {
		return uuid.Nil, ErrInvalidTrackingToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidTrackingToken
	}
	return id, nil
}
