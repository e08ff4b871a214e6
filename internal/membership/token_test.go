package membership

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	m := &Member{ID: uuid.New(), Admin: true}

	raw, err := tm.Generate(m)
	require.NoError(t, err)

	p, err := tm.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, m.ID, p.MemberID)
	assert.True(t, p.Admin)
}

func TestTokenRejections(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	raw, err := tm.Generate(&Member{ID: uuid.New()})
	require.NoError(t, err)

	_, err = NewTokenManager("other", time.Hour).Validate(raw)
	assert.Error(t, err, "wrong secret")

	expired := NewTokenManager("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Validate(raw)
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: uuid.NewString()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.Validate(unsigned)
	assert.Error(t, err, "alg none")

	_, err = tm.Validate("garbage")
	assert.Error(t, err)
}
