package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stockwatch/internal/kvstore"
	"stockwatch/internal/market"
)

// 작업 이름
const (
	JobLogPrices = "log-prices"
	JobBackfill  = "backfill"
)

// TrackerPrefix 일일 실행 기록 키 접두사
const TrackerPrefix = "daemon-runs-"

// TrackerRetention 실행 기록 보관 기간
const TrackerRetention = 7 * 24 * time.Hour

// JobRecord 작업 1회 실행 기록
type JobRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Job       string    `json:"job"`
	RunID     string    `json:"run_id,omitempty"`
	Status    string    `json:"status"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// DailyState 하루 실행 기록
type DailyState struct {
	Date string      `json:"date"`
	Runs []JobRecord `json:"runs"`
}

// Count 작업별 실행 횟수
func (s DailyState) Count(job string) int {
	n := 0
	for _, r := range s.Runs {
		if r.Job == job {
			n++
		}
	}
	return n
}

// RunTracker 일일 실행 기록 (공유 저장소에 보관)
type RunTracker struct {
	kv    kvstore.Store
	clock *market.Clock
	mu    sync.Mutex
}

// NewRunTracker 생성자
func NewRunTracker(kv kvstore.Store, clock *market.Clock) *RunTracker {
	if clock == nil {
		clock = market.NewClock(nil)
	}
	return &RunTracker{kv: kv, clock: clock}
}

func trackerKey(date string) string {
	return TrackerPrefix + date
}

// Record 오늘 기록에 추가
func (t *RunTracker) Record(ctx context.Context, rec JobRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.clock.Now()
	}
	date := rec.Timestamp.In(t.clock.Location()).Format(market.LogDateLayout)

	state, err := t.load(ctx, date)
	if err != nil {
		return err
	}
	state.Runs = append(state.Runs, rec)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	return t.kv.Set(ctx, trackerKey(date), string(data), TrackerRetention)
}

// State date(YYYY-MM-DD) 실행 기록
func (t *RunTracker) State(ctx context.Context, date string) (DailyState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx, date)
}

// Today 오늘 실행 기록
func (t *RunTracker) Today(ctx context.Context) (DailyState, error) {
	return t.State(ctx, t.clock.Today())
}

func (t *RunTracker) load(ctx context.Context, date string) (DailyState, error) {
	state := DailyState{Date: date}
	raw, ok, err := t.kv.Get(ctx, trackerKey(date))
	if err != nil {
		return state, fmt.Errorf("load run state: %w", err)
	}
	if !ok {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return DailyState{Date: date}, nil
	}
	return state, nil
}
