package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssuedToken 발급 직후 토큰
type IssuedToken struct {
	Value     string
	ExpiresIn time.Duration
	Expiry    time.Time // 응답 또는 JWT exp에서 얻은 만료 시각 (모르면 zero)
}

// expiresAt 실제 만료 시각
func (t *IssuedToken) expiresAt(issuedAt time.Time) time.Time {
	if !t.Expiry.IsZero() {
		return t.Expiry
	}
	if t.ExpiresIn > 0 {
		return issuedAt.Add(t.ExpiresIn)
	}
	return issuedAt.Add(HardCeiling)
}

// Issuer 원격 토큰 발급
type Issuer interface {
	Issue(ctx context.Context) (*IssuedToken, error)
}

// HTTPIssuer /oauth2/tokenP 호출
type HTTPIssuer struct {
	creds   Credentials
	baseURL string
	client  *http.Client
}

// NewIssuer 토큰 발급기 생성
func NewIssuer(creds Credentials, baseURL string) *HTTPIssuer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPIssuer{
		creds:   creds,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Issue 토큰 발급 요청
// EGW00133(1분당 1회 제한)은 RateLimited IssuanceError로 분류
func (i *HTTPIssuer) Issue(ctx context.Context) (*IssuedToken, error) {
	reqBody := tokenRequest{
		GrantType: "client_credentials",
		AppKey:    i.creds.AppKey,
		AppSecret: i.creds.AppSecret,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+pathToken, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &IssuanceError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &IssuanceError{Err: fmt.Errorf("read response: %w", err)}
	}

	var tokenResp tokenResponse
	decodeErr := json.Unmarshal(body, &tokenResp)

	code := tokenResp.ErrorCode
	if code == "" {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil {
			code = apiErr.MsgCd
		}
	}
	if code == ErrCodeTokenRateLimit || bytes.Contains(body, []byte(ErrCodeTokenRateLimit)) {
		return nil, &IssuanceError{
			RateLimited: true,
			Code:        ErrCodeTokenRateLimit,
			Err:         fmt.Errorf("token request rejected: %d - %s", resp.StatusCode, strings.TrimSpace(tokenResp.ErrorDescription)),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &IssuanceError{Code: code, Err: fmt.Errorf("token request failed: %d - %s", resp.StatusCode, string(body))}
	}
	if decodeErr != nil {
		return nil, &IssuanceError{Err: fmt.Errorf("unmarshal response: %w", decodeErr)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &IssuanceError{Code: code, Err: fmt.Errorf("empty access token in response: %s", string(body))}
	}

	return &IssuedToken{
		Value:     tokenResp.AccessToken,
		ExpiresIn: time.Duration(tokenResp.ExpiresIn) * time.Second,
		Expiry:    tokenExpiry(tokenResp),
	}, nil
}

// tokenExpiry JWT exp 클레임, 없으면 access_token_token_expired (KST)
func tokenExpiry(resp tokenResponse) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	if resp.AccessTokenExpired != "" {
		loc, err := time.LoadLocation("Asia/Seoul")
		if err != nil {
			loc = time.FixedZone("KST", 9*60*60)
		}
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", resp.AccessTokenExpired, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}
