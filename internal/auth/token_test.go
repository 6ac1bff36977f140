package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerify(t *testing.T) {
	s := NewSigner("secret", time.Hour)

	token, err := s.Issue("player_42")
	require.NoError(t, err)

	id, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "player_42", id)
}

func TestIssuedClaims(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	token, err := s.Issue("alice")
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, claims.ExpiresAt.Time.Equal(base.Add(time.Minute)))
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	alice, err := s.Issue("alice")
	require.NoError(t, err)
	bob, err := NewSigner("other", time.Hour).Issue("bob")
	require.NoError(t, err)

	_, err = s.Verify(bob)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// bob's claims under alice's signature
	a := strings.Split(alice, ".")
	b := strings.Split(bob, ".")
	_, err = s.Verify(a[0] + "." + b[1] + "." + a[2])
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	for _, bad := range []string{"", "alice", "alice.1", ".1.sig", "a.b.c.d"} {
		_, err := s.Verify(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewSigner("secret", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpiry(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	token, err := s.Issue("alice")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(30 * time.Second) }
	_, err = s.Verify(token)
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNonExpiringToken(t *testing.T) {
	s := NewSigner("secret", 0)
	token, err := s.Issue("alice")
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)

	s.now = func() time.Time { return time.Now().Add(100 * 365 * 24 * time.Hour) }
	id, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
}

func TestIssueRejectsEmptyPlayerID(t *testing.T) {
	_, err := NewSigner("secret", time.Hour).Issue("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestContextAndHeader(t *testing.T) {
	ctx := WithPlayer(context.Background(), "alice")
	assert.Equal(t, "alice", PlayerFromContext(ctx))
	assert.Equal(t, "", PlayerFromContext(context.Background()))

	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}
