package kis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuerSuccess(t *testing.T) {
	exp := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "token",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth2/tokenP", r.URL.Path)

		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "client_credentials", req.GrantType)
		assert.Equal(t, testCreds.AppKey, req.AppKey)
		assert.Equal(t, testCreds.AppSecret, req.AppSecret)

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": signed,
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	}))
	defer srv.Close()

	tok, err := NewIssuer(testCreds, srv.URL).Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signed, tok.Value)
	assert.Equal(t, 24*time.Hour, tok.ExpiresIn)
	assert.True(t, tok.Expiry.Equal(exp), "expiry comes from the JWT exp claim")
}

func TestIssuerExpiryFromResponseField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"opaque","token_type":"Bearer","expires_in":86400,"access_token_token_expired":"2025-03-05 09:00:00"}`))
	}))
	defer srv.Close()

	tok, err := NewIssuer(testCreds, srv.URL).Issue(context.Background())
	require.NoError(t, err)

	// 09:00 KST == 00:00 UTC
	assert.True(t, tok.Expiry.Equal(time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)), "got %s", tok.Expiry)
}

func TestIssuerRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error_description":"접근토큰 발급 잠시 후 다시 시도하세요(1분당 1회)","error_code":"EGW00133"}`))
	}))
	defer srv.Close()

	_, err := NewIssuer(testCreds, srv.URL).Issue(context.Background())

	var ie *IssuanceError
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.RateLimited)
	assert.Equal(t, ErrCodeTokenRateLimit, ie.Code)
}

func TestIssuerOtherFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error_description":"유효하지 않은 AppKey입니다.","error_code":"EGW00103"}`))
	}))
	defer srv.Close()

	_, err := NewIssuer(testCreds, srv.URL).Issue(context.Background())

	var ie *IssuanceError
	require.ErrorAs(t, err, &ie)
	assert.False(t, ie.RateLimited)
	assert.Equal(t, "EGW00103", ie.Code)
}

func TestIssuerEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	_, err := NewIssuer(testCreds, srv.URL).Issue(context.Background())

	var ie *IssuanceError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, err.Error(), "empty access token")
}

func TestIssuedTokenExpiresAt(t *testing.T) {
	issuedAt := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	tok := &IssuedToken{ExpiresIn: time.Hour}
	assert.Equal(t, issuedAt.Add(time.Hour), tok.expiresAt(issuedAt))

	tok = &IssuedToken{}
	assert.Equal(t, issuedAt.Add(HardCeiling), tok.expiresAt(issuedAt))
}
