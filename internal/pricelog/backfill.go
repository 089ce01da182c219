package pricelog

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/guregu/null/v6"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/market"
	"stockwatch/pkg/model"
)

// IntradaySource 분봉 데이터 공급자 (kis.Client)
type IntradaySource interface {
	Intraday(ctx context.Context, code, date, end string) ([]model.IntradaySnapshot, error)
}

// 백필 결과 상태
const (
	StatusSkipped  = "skipped"
	StatusUpToDate = "up-to-date"
	StatusFilled   = "filled"
	StatusNoData   = "no-data"
)

// BackfillResult 백필 결과
type BackfillResult struct {
	Code   string              `json:"code"`
	Date   string              `json:"date"`
	Status string              `json:"status"`
	Reason string              `json:"reason,omitempty"`
	Filled int                 `json:"filled"`
	Prices map[string]null.Int `json:"prices,omitempty"`
}

// Backfiller 당일 누락 슬롯 채우기
type Backfiller struct {
	store  *Store
	source IntradaySource
	clock  *market.Clock
}

// NewBackfiller 백필러 생성
func NewBackfiller(store *Store, source IntradaySource, clock *market.Clock) *Backfiller {
	if clock == nil {
		clock = store.clock
	}
	return &Backfiller{store: store, source: source, clock: clock}
}

// Backfill 당일 엔트리가 없거나 마지막 슬롯이 비어있으면 분봉을 한 번 조회해 채움
// 주말과 11시 이전에는 아무것도 하지 않음
func (b *Backfiller) Backfill(ctx context.Context, code string) (*BackfillResult, error) {
	today := b.clock.Today()
	res := &BackfillResult{Code: code, Date: today}

	gate := b.clock.BackfillGate()
	if !gate.Open {
		res.Status = StatusSkipped
		res.Reason = gate.Reason
		return res, nil
	}

	current, found, err := b.store.Entry(ctx, code, today)
	if err != nil {
		return nil, err
	}
	if found && current.Prices[market.WindowEnd].Valid {
		res.Status = StatusUpToDate
		res.Filled = current.ValidCount()
		res.Prices = current.Prices
		return res, nil
	}

	snaps, err := b.source.Intraday(ctx, code, today, market.WindowEnd)
	if err != nil {
		if kis.IsFatal(err) {
			return nil, err
		}
		log.Printf("[PRICELOG] %s: intraday fetch failed, recording nulls: %v", code, err)
		snaps = nil
	}

	fresh := ExtractSlots(snaps, market.LogSlots)
	entry, err := b.store.Update(ctx, code, today, func(e *Entry) {
		e.Merge(fresh)
	})
	if err != nil {
		return nil, err
	}

	res.Prices = entry.Prices
	res.Filled = entry.ValidCount()
	res.Status = StatusFilled
	if res.Filled == 0 {
		res.Status = StatusNoData
	}
	log.Printf("[PRICELOG] %s: backfilled %s (%d/%d slots)", code, today, res.Filled, len(market.LogSlots))
	return res, nil
}

// ExtractSlots 슬롯별 가격 추출 (없으면 명시적 null)
func ExtractSlots(snaps []model.IntradaySnapshot, slots []string) map[string]null.Int {
	out := make(map[string]null.Int, len(slots))
	for _, slot := range slots {
		out[slot] = PriceAt(snaps, slot)
	}
	return out
}

// PriceAt 정확히 일치하는 시각, 없으면 같은 시(hour) 안에서 1분 이내 가장 가까운 시각의 가격
func PriceAt(snaps []model.IntradaySnapshot, slot string) null.Int {
	target, ok := minuteOfDay(slot)
	if !ok {
		return null.Int{}
	}

	best := -1
	bestDiff := 2
	for i, s := range snaps {
		if s.Price <= 0 {
			continue
		}
		m, ok := minuteOfDay(s.Time)
		if !ok || m/60 != target/60 {
			continue
		}
		diff := m - target
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff || (diff == bestDiff && best >= 0 && s.Time < snaps[best].Time) {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		return null.Int{}
	}
	return null.IntFrom(snaps[best].Price)
}

func minuteOfDay(hhmm string) (int, bool) {
	if len(hhmm) != 4 {
		return 0, false
	}
	n, err := strconv.Atoi(hhmm)
	if err != nil {
		return 0, false
	}
	h, m := n/100, n%100
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// String 로그 출력용
func (r *BackfillResult) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("%s %s: %s (%s)", r.Code, r.Date, r.Status, r.Reason)
	}
	return fmt.Sprintf("%s %s: %s (%d/%d)", r.Code, r.Date, r.Status, r.Filled, len(market.LogSlots))
}
