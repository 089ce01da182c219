package kis

import (
	"context"
	"log"
	"time"
)

// RetryPolicy 일시적 오류 재시도 정책
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(error) bool
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy 최대 3회, 2초 × 시도 횟수 선형 대기
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(2 * time.Second),
		Retryable:   IsTransient,
		Sleep:       sleepContext,
	}
}

// LinearBackoff attempt번째 실패 후 step × attempt 대기
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Do fn을 정책에 따라 실행
// 재시도 대상이 아닌 오류는 그대로, 재시도 소진 시 TransientError 반환
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		log.Printf("[KIS] %s attempt %d/%d failed: %v (retry in %s)", op, attempt, attempts, err, wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return &TransientError{Op: op, Attempts: attempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
