package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "u-42"),
			userId:   "u-42",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %s", tc.userId)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("password")
	require.NoError(t, err, "expected no error hashing password")
	assert.NotEqual(t, "password", hash, "expected hash to differ from plaintext")

	assert.True(t, verifyPassword(hash, "password"), "expected matching password to verify")
	assert.False(t, verifyPassword(hash, "wrong"), "expected mismatched password to fail")
}

func TestJwtRoundTrip(t *testing.T) {
	app := &RealtimeApp{signingKey: []byte("some_secret")}

	token, err := app.createJwtForSession("u-42", time.Hour)
	require.NoError(t, err, "expected no error creating token")

	subject, err := app.verifyToken(token)
	assert.NoError(t, err, "expected token to verify")
	assert.Equal(t, "u-42", subject, "expected subject to round trip")

	t.Run("rejects wrong key", func(t *testing.T) {
		other := &RealtimeApp{signingKey: []byte("other_secret")}
		_, err := other.verifyToken(token)
		assert.Error(t, err, "expected verification to fail with wrong key")
	})

	t.Run("rejects expired token", func(t *testing.T) {
		expired, err := app.createJwtForSession("u-42", -time.Minute)
		require.NoError(t, err)
		_, err = app.verifyToken(expired)
		assert.Error(t, err, "expected expired token to fail")
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := app.verifyToken("not.a.token")
		assert.Error(t, err, "expected malformed token to fail")
	})
}

func TestSessionToken(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		expected string
		err      bool
	}{
		{
			name: "bearer header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header-token")
			},
			expected: "header-token",
		},
		{
			name: "cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "cookie-token"})
			},
			expected: "cookie-token",
		},
		{
			name:     "query parameter",
			setup:    func(r *http.Request) {},
			expected: "query-token",
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header-token")
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "cookie-token"})
			},
			expected: "header-token",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/ws"
			if tc.name == "query parameter" {
				target = "/ws?token=query-token"
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			tc.setup(r)

			tok, err := sessionToken(r)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, tok)
		})
	}

	t.Run("no token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		_, err := sessionToken(r)
		assert.Error(t, err, "expected error when no token present")
	})
}
