package tokens

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerificationToken(t *testing.T) {
	token, digest, err := NewVerificationToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.Len(t, digest, 64)
	assert.Equal(t, Digest(token), digest)
	assert.NotContains(t, digest, token)

	other, otherDigest, err := NewVerificationToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
	assert.NotEqual(t, digest, otherDigest)
}

func TestTrackingToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewTrackingIssuer("tracking-secret", 24*time.Hour)
	id := uuid.New()

	token, err := issuer.Issue(id, now)
	require.NoError(t, err)

	t.Run("parses repeatedly", func(t *testing.T) {
		for range 3 {
			got, err := issuer.Parse(token, now.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, id, got)
		}
	})

	t.Run("expired", func(t *testing.T) {
		_, err := issuer.Parse(token, now.Add(25*time.Hour))
		assert.ErrorIs(t, err, ErrInvalidTrackingToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := NewTrackingIssuer("other-secret", time.Hour).Parse(token, now)
		assert.ErrorIs(t, err, ErrInvalidTrackingToken)
	})

	t.Run("garbage and empty", func(t *testing.T) {
		for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
			_, err := issuer.Parse(raw, now)
			assert.ErrorIs(t, err, ErrInvalidTrackingToken)
		}
	})

	t.Run("other token type", func(t *testing.T) {
		forged := jwt.NewWithClaims(jwt.SigningMethodHS256, TrackingClaims{
			Type: "access",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   id.String(),
				Issuer:    trackingIssuer,
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})
		signed, err := forged.SignedString([]byte("tracking-secret"))
		require.NoError(t, err)

		_, err = issuer.Parse(signed, now)
		assert.ErrorIs(t, err, ErrInvalidTrackingToken)
	})
}
