package kis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrDataUnavailable 정상 응답이지만 사용할 데이터가 없음
var ErrDataUnavailable = errors.New("kis: no usable data in response")

// ConfigError 필수 인증 정보 누락
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("kis credentials not configured: set %v", e.Missing)
}

// IssuanceError 토큰 발급 실패
type IssuanceError struct {
	RateLimited bool
	RetryAfter  time.Duration
	Code        string
	Err         error
}

func (e *IssuanceError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("token issuance rate limited by KIS (one per minute): retry in %ds (an issued token stays valid for 24h)",
			int((e.RetryAfter+time.Second-1)/time.Second))
	}
	if e.Err != nil {
		return "token issuance failed: " + e.Err.Error()
	}
	return "token issuance failed"
}

func (e *IssuanceError) Unwrap() error {
	return e.Err
}

// APIError rt_cd != "0" 또는 비정상 HTTP 응답
type APIError struct {
	Status int    `json:"status,omitempty"`
	RtCd   string `json:"rt_cd"`
	MsgCd  string `json:"msg_cd"`
	Msg1   string `json:"msg1"`
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.MsgCd == "" {
		return fmt.Sprintf("API error %d: %s", e.Status, e.Msg1)
	}
	return fmt.Sprintf("API error [%s] %s", e.MsgCd, e.Msg1)
}

// TransientError 재시도 후에도 실패한 일시적 네트워크 오류
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient 재시도 대상 여부 (연결 끊김/타임아웃/DNS 실패 및 초당 호출 제한)
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.MsgCd == ErrCodeRequestRateLimit
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsTokenExpired 토큰 만료 응답 여부
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.MsgCd == ErrCodeTokenExpired
}

// IsFatal 설정/토큰 오류 여부 (배치 전체 중단 대상)
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	var issErr *IssuanceError
	return errors.As(err, &cfgErr) || errors.As(err, &issErr) || errors.Is(err, context.Canceled)
}
