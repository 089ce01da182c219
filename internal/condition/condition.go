package condition

import (
	"context"
	"fmt"

	"stockwatch/internal/market"
	"stockwatch/internal/pricelog"
	"stockwatch/pkg/model"
)

// 조건별 구간 (HHMM, 양끝 포함)
const (
	c1Start, c1End = "0930", "0950"
	c2Start, c2End = "0950", "1000"
	c3Start, c3End = "0930", "1000"
)

// Result 세 조건 판정 결과
type Result struct {
	Condition1   bool  `json:"condition1"`
	Condition2   bool  `json:"condition2"`
	Condition3   bool  `json:"condition3"`
	LatestVolume int64 `json:"latestVolume,omitempty"`
	PrevVolume   int64 `json:"prevVolume,omitempty"`
	Samples      int   `json:"samples"`
	Cached       bool  `json:"cached"`
}

// HasData 당일 09:30~10:00 분봉이 하나 이상 있었는지
// 분봉 없이 나온 판정은 저장하지 않음
func (r Result) HasData() bool {
	return r.Cached || r.Samples > 0
}

// Summary 로그 저장용 변환
func (r Result) Summary() pricelog.Summary {
	c1, c2, c3 := r.Condition1, r.Condition2, r.Condition3
	return pricelog.Summary{Condition1: &c1, Condition2: &c2, Condition3: &c3}
}

// Compute 분봉 두 날짜로 조건 판정
//   - condition1: 09:30~09:50 중 prevMiddle 초과 가격이 하나라도 있음
//   - condition2: 09:50~10:00 중 prevMiddle 이하 가격이 하나도 없음 (데이터 없으면 true)
//   - condition3: 09:30~10:00 거래량이 전일 같은 구간 이상
func Compute(latest, prev []model.IntradaySnapshot, prevMiddle float64) Result {
	r := Result{Condition2: true}

	for _, s := range latest {
		if market.InRange(s.Time, c3Start, c3End) {
			r.Samples++
		}
		if market.InRange(s.Time, c1Start, c1End) && float64(s.Price) > prevMiddle {
			r.Condition1 = true
		}
		if market.InRange(s.Time, c2Start, c2End) && float64(s.Price) <= prevMiddle {
			r.Condition2 = false
		}
	}

	r.LatestVolume = WindowVolume(latest, c3Start, c3End)
	r.PrevVolume = WindowVolume(prev, c3Start, c3End)
	r.Condition3 = r.LatestVolume >= r.PrevVolume
	return r
}

// WindowVolume 구간 거래량
// 구간 마지막 누적 거래량 - 구간 직전 누적 거래량 (직전 데이터 없으면 0)
func WindowVolume(snaps []model.IntradaySnapshot, start, end string) int64 {
	var before, last int64
	inWindow := false
	for _, s := range snaps {
		switch {
		case s.Time < start:
			if s.CumulativeVolume > before {
				before = s.CumulativeVolume
			}
		case s.Time <= end:
			if s.CumulativeVolume > last {
				last = s.CumulativeVolume
			}
			inWindow = true
		}
	}
	if !inWindow || last < before {
		return 0
	}
	return last - before
}

// EntryReader 저장된 로그 조회 (pricelog.Store)
type EntryReader interface {
	Entry(ctx context.Context, code, date string) (pricelog.Entry, bool, error)
}

// Evaluator 저장된 조건이 있으면 재계산하지 않는 판정기
type Evaluator struct {
	logs   EntryReader
	source pricelog.IntradaySource
}

// NewEvaluator 판정기 생성
func NewEvaluator(logs EntryReader, source pricelog.IntradaySource) *Evaluator {
	return &Evaluator{logs: logs, source: source}
}

// Stored 저장된 조건 (없으면 false)
func (ev *Evaluator) Stored(ctx context.Context, code, date string) (Result, bool, error) {
	if ev.logs == nil {
		return Result{}, false, nil
	}
	e, ok, err := ev.logs.Entry(ctx, code, date)
	if err != nil {
		return Result{}, false, err
	}
	if !ok || !e.HasConditions() {
		return Result{}, false, nil
	}
	return Result{
		Condition1: *e.Condition1,
		Condition2: *e.Condition2,
		Condition3: *e.Condition3,
		Cached:     true,
	}, true, nil
}

// EvaluateSeries 이미 조회한 분봉으로 판정 (저장값 우선)
func (ev *Evaluator) EvaluateSeries(ctx context.Context, code, latestDate string, latest, prev []model.IntradaySnapshot, prevMiddle float64) (Result, error) {
	if r, ok, err := ev.Stored(ctx, code, latestDate); err != nil || ok {
		return r, err
	}
	return Compute(latest, prev, prevMiddle), nil
}

// Evaluate 저장값이 없을 때만 두 날짜의 분봉을 조회해 판정
func (ev *Evaluator) Evaluate(ctx context.Context, code, latestDate, prevDate string, prevMiddle float64) (Result, error) {
	if r, ok, err := ev.Stored(ctx, code, latestDate); err != nil || ok {
		return r, err
	}

	latest, err := ev.source.Intraday(ctx, code, latestDate, c3End)
	if err != nil {
		return Result{}, fmt.Errorf("intraday %s %s: %w", code, latestDate, err)
	}
	prev, err := ev.source.Intraday(ctx, code, prevDate, c3End)
	if err != nil {
		return Result{}, fmt.Errorf("intraday %s %s: %w", code, prevDate, err)
	}
	return Compute(latest, prev, prevMiddle), nil
}
