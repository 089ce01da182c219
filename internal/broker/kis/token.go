package kis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"stockwatch/internal/kvstore"
	"stockwatch/pkg/model"
)

const (
	// ValidityWindow 재사용 기준 (실제 만료 24시간보다 보수적으로)
	ValidityWindow = 12 * time.Hour
	// HardCeiling 발급 제한 시 마지막 수단으로 쓸 수 있는 최대 나이
	HardCeiling = 24 * time.Hour

	issueCooldown = 65 * time.Second
	inflightWait  = 2 * time.Second

	// TokenKeyPrefix 공유 저장소 키 접두사 (AppKey 해시가 붙음)
	TokenKeyPrefix = "kis-access-token-"
)

// storedToken 공유 저장소에 저장되는 형태
type storedToken struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenManager 메모리 → 공유 저장소 → 원격 발급 순으로 토큰 조회
type TokenManager struct {
	creds  Credentials
	issuer Issuer
	store  kvstore.Store // nil이면 메모리만 사용
	key    string
	now    func() time.Time

	mu          sync.Mutex
	token       model.AccessToken
	lastRequest time.Time
	inflight    chan struct{}
}

// NewTokenManager 토큰 매니저 생성
func NewTokenManager(creds Credentials, issuer Issuer, store kvstore.Store) *TokenManager {
	hash := sha256.Sum256([]byte(creds.AppKey))
	return &TokenManager{
		creds:  creds,
		issuer: issuer,
		store:  store,
		key:    TokenKeyPrefix + hex.EncodeToString(hash[:4]),
		now:    time.Now,
	}
}

// WithClock 테스트용 시계 주입
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// Key 공유 저장소 키
func (tm *TokenManager) Key() string {
	return tm.key
}

// GetToken 유효한 토큰 값 반환
func (tm *TokenManager) GetToken(ctx context.Context) (string, error) {
	t, err := tm.Token(ctx)
	if err != nil {
		return "", err
	}
	return t.Value, nil
}

// Token 유효한 토큰 반환
func (tm *TokenManager) Token(ctx context.Context) (model.AccessToken, error) {
	if err := tm.checkConfig(); err != nil {
		return model.AccessToken{}, err
	}

	now := tm.now()
	if t, ok := tm.cached(now); ok {
		return t, nil
	}

	stored := tm.loadStored(ctx)
	if usable(stored, now, ValidityWindow) {
		tm.adopt(stored)
		log.Printf("[TOKEN] using shared token (issued %s ago)", now.Sub(stored.IssuedAt).Truncate(time.Second))
		return stored, nil
	}

	// 직전 발급 요청 후 쿨다운 중이면 남은 토큰으로 버팀
	if tm.inCooldown(now) {
		if fb, ok := tm.fallback(now, stored); ok {
			log.Printf("[TOKEN] issuance cooling down, reusing token issued %s ago", now.Sub(fb.IssuedAt).Truncate(time.Second))
			return fb, nil
		}
	}

	// 같은 프로세스에서 발급 중이면 끝날 때까지 잠시 대기 후 재확인
	done, busy := tm.claim()
	if busy != nil {
		timer := time.NewTimer(inflightWait)
		select {
		case <-busy:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return model.AccessToken{}, ctx.Err()
		}
		timer.Stop()
		if t, ok := tm.cached(tm.now()); ok {
			return t, nil
		}
	} else if t, ok := tm.cached(tm.now()); ok {
		// Double-check
		tm.release(done)
		return t, nil
	}

	return tm.issue(ctx, stored, done)
}

// Invalidate 메모리와 공유 저장소의 토큰 제거 (재발급 강제)
func (tm *TokenManager) Invalidate(ctx context.Context) {
	tm.mu.Lock()
	tm.token = model.AccessToken{}
	tm.mu.Unlock()

	if tm.store != nil {
		if err := tm.store.Delete(ctx, tm.key); err != nil {
			log.Printf("[TOKEN] Warning: failed to delete shared token: %v", err)
		}
	}
}

// Cached 메모리에 있는 토큰 (조회 전용, I/O 없음)
func (tm *TokenManager) Cached() model.AccessToken {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.token
}

func (tm *TokenManager) checkConfig() error {
	var missing []string
	if tm.creds.AppKey == "" {
		missing = append(missing, "KIS_APP_KEY")
	}
	if tm.creds.AppSecret == "" {
		missing = append(missing, "KIS_APP_SECRET")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// issue 원격 발급 (done이 있으면 완료 시 대기 중인 호출에 알림)
func (tm *TokenManager) issue(ctx context.Context, stored model.AccessToken, done chan struct{}) (model.AccessToken, error) {
	defer tm.release(done)

	tm.mu.Lock()
	prevRequest := tm.lastRequest
	tm.lastRequest = tm.now()
	tm.mu.Unlock()

	issued, err := tm.issuer.Issue(ctx)

	now := tm.now()
	if err != nil {
		var ie *IssuanceError
		if !errors.As(err, &ie) {
			ie = &IssuanceError{Err: err}
		}
		if ie.RateLimited {
			if fb, ok := tm.fallback(now, stored); ok {
				log.Printf("[TOKEN] issuance rate limited, falling back to token issued %s ago", now.Sub(fb.IssuedAt).Truncate(time.Second))
				return fb, nil
			}
			ie.RetryAfter = tm.retryAfter(now, prevRequest, stored)
		}
		log.Printf("[TOKEN] %v", ie)
		return model.AccessToken{}, ie
	}

	token := model.AccessToken{
		Value:     issued.Value,
		IssuedAt:  now,
		ExpiresAt: issued.expiresAt(now),
	}

	tm.mu.Lock()
	tm.token = token
	tm.mu.Unlock()

	tm.saveStored(ctx, token)
	log.Printf("[TOKEN] new token issued (expires: %s)", token.ExpiresAt.Format("2006-01-02 15:04:05"))
	return token, nil
}

func (tm *TokenManager) cached(now time.Time) (model.AccessToken, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if usable(tm.token, now, ValidityWindow) {
		return tm.token, true
	}
	return model.AccessToken{}, false
}

func (tm *TokenManager) adopt(t model.AccessToken) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if t.IssuedAt.After(tm.token.IssuedAt) {
		tm.token = t
	}
}

// claim 발급 권한 획득, 이미 발급 중이면 그 채널 반환
func (tm *TokenManager) claim() (done, busy chan struct{}) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.inflight != nil {
		return nil, tm.inflight
	}
	tm.inflight = make(chan struct{})
	return tm.inflight, nil
}

func (tm *TokenManager) release(done chan struct{}) {
	if done == nil {
		return
	}
	tm.mu.Lock()
	if tm.inflight == done {
		tm.inflight = nil
	}
	tm.mu.Unlock()
	close(done)
}

func (tm *TokenManager) inCooldown(now time.Time) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return !tm.lastRequest.IsZero() && now.Sub(tm.lastRequest) < issueCooldown
}

// fallback 24시간 이내 발급된 토큰 중 가장 최근 것
func (tm *TokenManager) fallback(now time.Time, stored model.AccessToken) (model.AccessToken, bool) {
	mem := tm.Cached()

	var best model.AccessToken
	for _, c := range []model.AccessToken{mem, stored} {
		if usable(c, now, HardCeiling) && c.IssuedAt.After(best.IssuedAt) {
			best = c
		}
	}
	return best, best.Value != ""
}

// retryAfter 마지막으로 알려진 발급 시점 기준 남은 대기 시간
func (tm *TokenManager) retryAfter(now, prevRequest time.Time, stored model.AccessToken) time.Duration {
	ref := prevRequest
	for _, t := range []time.Time{stored.IssuedAt, tm.Cached().IssuedAt} {
		if t.After(ref) {
			ref = t
		}
	}
	if ref.IsZero() || now.Sub(ref) >= issueCooldown {
		return 60 * time.Second
	}
	wait := issueCooldown - now.Sub(ref)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (tm *TokenManager) loadStored(ctx context.Context) model.AccessToken {
	if tm.store == nil {
		return model.AccessToken{}
	}

	raw, ok, err := tm.store.Get(ctx, tm.key)
	if err != nil {
		log.Printf("[TOKEN] Warning: shared store read failed: %v", err)
		return model.AccessToken{}
	}
	if !ok {
		return model.AccessToken{}
	}

	var st storedToken
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		log.Printf("[TOKEN] Warning: ignoring malformed shared token: %v", err)
		return model.AccessToken{}
	}
	return model.AccessToken{Value: st.AccessToken, IssuedAt: st.IssuedAt, ExpiresAt: st.ExpiresAt}
}

func (tm *TokenManager) saveStored(ctx context.Context, t model.AccessToken) {
	if tm.store == nil {
		return
	}

	data, err := json.Marshal(storedToken{AccessToken: t.Value, IssuedAt: t.IssuedAt, ExpiresAt: t.ExpiresAt})
	if err != nil {
		log.Printf("[TOKEN] Warning: marshal token: %v", err)
		return
	}
	if err := tm.store.Set(ctx, tm.key, string(data), ValidityWindow); err != nil {
		log.Printf("[TOKEN] Warning: failed to share token: %v", err)
	}
}

// usable window 이내 발급되었고 알려진 만료 시각 전
func usable(t model.AccessToken, now time.Time, window time.Duration) bool {
	if !t.FreshWithin(now, window) {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}
