package watch

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/market"
	"stockwatch/internal/pricelog"
)

// LogRun 상태
const (
	RunRecorded     = "recorded"
	RunMarketClosed = "market-closed"
	RunOutsideSlot  = "outside-window"
)

// SlotResult 종목별 기록 결과
type SlotResult struct {
	Time  string   `json:"time,omitempty"`
	Price null.Int `json:"price,omitzero"`
	Error string   `json:"error,omitempty"`
}

// LogRun 가격 기록 실행 결과
type LogRun struct {
	RunID   string                `json:"runId"`
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
	Success bool                  `json:"success"`
	Date    string                `json:"date"`
	Time    string                `json:"time"`
	Results map[string]SlotResult `json:"results,omitempty"`
}

// LogPrices 현재 슬롯(5분 단위)의 현재가를 관심 종목마다 기록
// 휴장일이나 기록 시간대가 아니면 아무것도 쓰지 않음
func (s *Service) LogPrices(ctx context.Context) (*LogRun, error) {
	now := s.clock.Now()
	run := &LogRun{
		RunID: uuid.New().String(),
		Date:  s.clock.Today(),
		Time:  s.clock.SlotNow(),
	}

	if !market.IsTradingDay(now) {
		run.Status = RunMarketClosed
		run.Message = "Market is closed today"
		log.Printf("[CRON] %s: market closed", run.Date)
		return run, nil
	}
	if !market.IsLogSlot(run.Time) {
		run.Status = RunOutsideSlot
		run.Message = "Current time KST " + run.Time + " is not a logging time"
		log.Printf("[CRON] %s %s: not a logging slot", run.Date, run.Time)
		return run, nil
	}

	if _, err := s.tokens.GetToken(ctx); err != nil {
		return nil, err
	}

	log.Printf("[CRON] run %s: logging %s %s for %d codes", run.RunID, run.Date, run.Time, len(s.codes))
	run.Results = make(map[string]SlotResult, len(s.codes))
	for _, code := range s.codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.recordSlot(ctx, code, run.Date, run.Time)
		if err != nil {
			log.Printf("[CRON] run %s aborted at %s: %v", run.RunID, code, err)
			return nil, err
		}
		run.Results[code] = res
	}

	run.Status = RunRecorded
	run.Success = true
	log.Printf("[CRON] run %s done", run.RunID)
	return run, nil
}

// recordSlot 종목 하나 기록 (설정/토큰 오류만 error로 반환, 나머지는 결과에 기록)
func (s *Service) recordSlot(ctx context.Context, code, date, slot string) (SlotResult, error) {
	q, err := s.quotes.Quote(ctx, code)
	if err != nil {
		if kis.IsFatal(err) {
			return SlotResult{}, err
		}
		log.Printf("[CRON] %s: current price failed: %v", code, err)
		return SlotResult{Error: err.Error()}, nil
	}
	if !q.Price.Valid {
		log.Printf("[CRON] %s: no current price", code)
		return SlotResult{Time: slot, Error: "current price unavailable"}, nil
	}

	if _, err := s.logs.RecordSnapshot(ctx, code, date, slot, q.Price); err != nil {
		log.Printf("[CRON] %s: failed to record %s: %v", code, slot, err)
		return SlotResult{Error: err.Error()}, nil
	}
	log.Printf("[CRON] %s %s = %d", code, slot, q.Price.Int64)
	return SlotResult{Time: slot, Price: q.Price}, nil
}

// BackfillAll 관심 종목 전체 백필 (종목별 실패는 결과에 기록, 설정/토큰 오류면 중단)
func (s *Service) BackfillAll(ctx context.Context, progress func(code string)) ([]*pricelog.BackfillResult, map[string]error) {
	var results []*pricelog.BackfillResult
	failed := make(map[string]error)
	for _, code := range s.codes {
		res, err := s.FetchToday(ctx, code)
		if progress != nil {
			progress(code)
		}
		if err != nil {
			log.Printf("[WATCH] %s: backfill failed: %v", code, err)
			failed[code] = err
			if kis.IsFatal(err) {
				break
			}
			continue
		}
		log.Printf("[WATCH] backfill %s", res)
		results = append(results, res)
	}
	return results, failed
}

// SaveLog 하루 분석 결과 저장 (date: YYYY-MM-DD)
func (s *Service) SaveLog(ctx context.Context, code, date string, sum pricelog.Summary) ([]pricelog.Entry, error) {
	if _, err := s.logs.SaveSummary(ctx, code, date, sum); err != nil {
		return nil, err
	}
	return s.logs.Get(ctx, code)
}

// DeleteLog 하루치 로그 삭제 (없으면 false)
func (s *Service) DeleteLog(ctx context.Context, code, date string) (bool, error) {
	return s.logs.Delete(ctx, code, date)
}

// LogEntries 보관 기간 내 로그 (최신 날짜 먼저)
func (s *Service) LogEntries(ctx context.Context, code string) ([]pricelog.Entry, error) {
	return s.logs.Get(ctx, code)
}
