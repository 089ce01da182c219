package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/condition"
	"stockwatch/internal/kvstore"
	"stockwatch/internal/market"
	"stockwatch/internal/pricelog"
	"stockwatch/pkg/model"
)

// ErrNotFound 일자별 시세가 없는 종목
var ErrNotFound = errors.New("stock not found")

// ErrNoCodes 조회할 종목 코드 없음
var ErrNoCodes = errors.New("no stock codes given")

// QuoteSource 시세 조회 (kis.Client)
type QuoteSource interface {
	Quote(ctx context.Context, code string) (*kis.Quote, error)
	DailyPrices(ctx context.Context, code string) ([]model.DailyPriceRecord, error)
	Intraday(ctx context.Context, code, date, end string) ([]model.IntradaySnapshot, error)
}

// TokenSource 배치 시작 시 토큰 확인 (kis.TokenManager)
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// Options 서비스 설정
type Options struct {
	Codes []string
	Names map[string]string
}

// Service 관심 종목 시세/로그 오케스트레이션
type Service struct {
	quotes   QuoteSource
	tokens   TokenSource
	cache    kvstore.Store
	logs     *pricelog.Store
	backfill *pricelog.Backfiller
	eval     *condition.Evaluator
	clock    *market.Clock
	codes    []string
	names    map[string]string
}

// NewService 서비스 생성
func NewService(quotes QuoteSource, tokens TokenSource, kv kvstore.Store, clock *market.Clock, opts Options) *Service {
	if clock == nil {
		clock = market.NewClock(nil)
	}
	logs := pricelog.NewStore(kv, clock)
	return &Service{
		quotes:   quotes,
		tokens:   tokens,
		cache:    kv,
		logs:     logs,
		backfill: pricelog.NewBackfiller(logs, quotes, clock),
		eval:     condition.NewEvaluator(logs, quotes),
		clock:    clock,
		codes:    opts.Codes,
		names:    opts.Names,
	}
}

// Codes 관심 종목 코드
func (s *Service) Codes() []string {
	return s.codes
}

// Logs 가격 로그 저장소
func (s *Service) Logs() *pricelog.Store {
	return s.logs
}

// StockSummary 배치 조회 종목별 결과
type StockSummary struct {
	Name      string `json:"name"`
	Date      string `json:"date"`
	Open      int64  `json:"open"`
	Close     int64  `json:"close"`
	High      int64  `json:"high"`
	Low       int64  `json:"low"`
	PrevClose int64  `json:"prevClose"`
}

// BatchResult 배치 조회 결과 (성공/실패 분리)
type BatchResult struct {
	RunID   string                  `json:"runId"`
	Success int                     `json:"success"`
	Failed  int                     `json:"failed"`
	Results map[string]StockSummary `json:"results"`
	Errors  map[string]string       `json:"errors,omitempty"`
}

// Stocks 여러 종목의 직전 개장일 시세 (토큰 한 번으로 조회)
// 한 종목 실패는 errors에 기록하고 계속 진행
func (s *Service) Stocks(ctx context.Context, codes []string) (*BatchResult, error) {
	codes = normalizeCodes(codes)
	if len(codes) == 0 {
		return nil, ErrNoCodes
	}

	if _, err := s.tokens.GetToken(ctx); err != nil {
		return nil, err
	}

	res := &BatchResult{
		RunID:   uuid.New().String(),
		Results: make(map[string]StockSummary),
	}
	log.Printf("[WATCH] batch %s: %d codes", res.RunID, len(codes))

	for _, code := range codes {
		sum, err := s.summary(ctx, code)
		if err != nil {
			if kis.IsFatal(err) {
				return nil, err
			}
			log.Printf("[WATCH] batch %s: %s failed: %v", res.RunID, code, err)
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[code] = err.Error()
			continue
		}
		res.Results[code] = *sum
	}

	res.Success = len(res.Results)
	res.Failed = len(res.Errors)
	log.Printf("[WATCH] batch %s done: %d ok, %d failed", res.RunID, res.Success, res.Failed)
	return res, nil
}

func (s *Service) summary(ctx context.Context, code string) (*StockSummary, error) {
	ref, err := s.prevReference(ctx, code)
	if err != nil {
		return nil, err
	}

	date, err := market.ToLogDate(ref.Prev.Date)
	if err != nil {
		return nil, err
	}

	return &StockSummary{
		Name:      s.Name(ctx, code),
		Date:      date,
		Open:      ref.Prev.Open,
		Close:     ref.Prev.Close,
		High:      ref.Prev.High,
		Low:       ref.Prev.Low,
		PrevClose: ref.Latest.Close,
	}, nil
}

// StockDetail 단일 종목 상세
type StockDetail struct {
	Code         string            `json:"code"`
	Name         string            `json:"name"`
	Date         string            `json:"date"`
	Open         int64             `json:"open"`
	Close        int64             `json:"close"`
	High         int64             `json:"high"`
	Low          int64             `json:"low"`
	Middle       float64           `json:"middle"`
	Change       int64             `json:"change"`
	ChangePct    decimal.Decimal   `json:"changePct"`
	PrevClose    null.Int          `json:"prevClose"`
	PrevMiddle   null.Float        `json:"prevMiddle"`
	CurrentPrice null.Int          `json:"currentPrice"`
	Conditions   *condition.Result `json:"conditions,omitempty"`
	Logs         []pricelog.Entry  `json:"logs"`
}

// Stock 최근 개장일 시세, 현재가, 조건, 로그
func (s *Service) Stock(ctx context.Context, code string) (*StockDetail, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNoCodes
	}

	days, err := s.quotes.DailyPrices(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%s: %w", code, ErrNotFound)
	}

	latest := days[0]
	date, err := market.ToLogDate(latest.Date)
	if err != nil {
		return nil, err
	}

	d := &StockDetail{
		Code:      code,
		Date:      date,
		Open:      latest.Open,
		Close:     latest.Close,
		High:      latest.High,
		Low:       latest.Low,
		Middle:    latest.Middle(),
		Change:    latest.Change(),
		ChangePct: changePct(latest.Change(), latest.Open),
	}

	q, err := s.quotes.Quote(ctx, code)
	switch {
	case err == nil:
		d.Name = s.resolveName(code, q.Name)
		d.CurrentPrice = q.Price
	case kis.IsFatal(err):
		return nil, err
	default:
		log.Printf("[WATCH] %s: current price unavailable: %v", code, err)
		d.Name = s.resolveName(code, "")
	}

	if len(days) > 1 {
		prev := days[1]
		d.PrevClose = null.IntFrom(prev.Close)
		d.PrevMiddle = null.FloatFrom(prev.Middle())

		if cond, err := s.conditions(ctx, code, latest, prev); err != nil {
			if kis.IsFatal(err) {
				return nil, err
			}
			log.Printf("[WATCH] %s: conditions unavailable: %v", code, err)
		} else {
			d.Conditions = cond
		}
	}

	logs, err := s.logs.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	d.Logs = logs
	return d, nil
}

// conditions 판정 후 구간이 끝난 날이면 로그에 저장
func (s *Service) conditions(ctx context.Context, code string, latest, prev model.DailyPriceRecord) (*condition.Result, error) {
	date, err := market.ToLogDate(latest.Date)
	if err != nil {
		return nil, err
	}
	prevDate, err := market.ToLogDate(prev.Date)
	if err != nil {
		return nil, err
	}

	r, err := s.eval.Evaluate(ctx, code, date, prevDate, prev.Middle())
	if err != nil {
		return nil, err
	}
	if r.Cached || !s.clock.WindowComplete(date) {
		return &r, nil
	}
	if !r.HasData() {
		log.Printf("[WATCH] %s: no minute data for %s 09:30~10:00, conditions not stored", code, date)
		return &r, nil
	}

	sum := r.Summary()
	if e, ok, err := s.logs.Entry(ctx, code, date); err == nil && ok {
		sum.PriceAt10am = e.Prices["1000"]
	}
	if date < s.clock.Today() {
		sum.ClosePrice = null.IntFrom(latest.Close)
	}
	if _, err := s.logs.SaveSummary(ctx, code, date, sum); err != nil {
		log.Printf("[WATCH] %s: failed to persist conditions for %s: %v", code, date, err)
	}
	return &r, nil
}

// FetchToday 당일 누락 슬롯 백필
func (s *Service) FetchToday(ctx context.Context, code string) (*pricelog.BackfillResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNoCodes
	}
	return s.backfill.Backfill(ctx, code)
}

func changePct(change, open int64) decimal.Decimal {
	if open == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(change).
		Div(decimal.NewFromInt(open)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

func normalizeCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
