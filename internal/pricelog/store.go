package pricelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"

	"github.com/guregu/null/v6"

	"stockwatch/internal/kvstore"
	"stockwatch/internal/market"
)

// KeyPrefix 종목 로그 키 접두사
const KeyPrefix = "stock-log-"

var slotPattern = regexp.MustCompile(`^([01][0-9]|2[0-3])[0-5][0-9]$`)

// ErrExpired 보관 기간이 지난 날짜에 쓰기
var ErrExpired = errors.New("date is past the log retention period")

// Key 종목 로그 키
func Key(code string) string {
	return KeyPrefix + code
}

// Summary 하루 분석 결과 (nil/null 필드는 기존 값 유지)
type Summary struct {
	Condition1  *bool    `json:"condition1,omitempty"`
	Condition2  *bool    `json:"condition2,omitempty"`
	Condition3  *bool    `json:"condition3,omitempty"`
	PriceAt10am null.Int `json:"priceAt10am,omitzero"`
	PriceAt11am null.Int `json:"priceAt11am,omitzero"`
	ClosePrice  null.Int `json:"closePrice,omitzero"`
}

// Store 종목별 가격 로그 저장소
// 한 종목의 로그 전체를 JSON 배열 하나로 저장 (쓰기 1회, 마지막 쓰기 우선)
type Store struct {
	kv    kvstore.Store
	clock *market.Clock
}

// NewStore 로그 저장소 생성
func NewStore(kv kvstore.Store, clock *market.Clock) *Store {
	if clock == nil {
		clock = market.NewClock(nil)
	}
	return &Store{kv: kv, clock: clock}
}

// Get 보관 기간 내 로그 (최신 날짜 먼저)
func (s *Store) Get(ctx context.Context, code string) ([]Entry, error) {
	entries, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	return normalize(entries, s.clock.Now()), nil
}

// Entry date 엔트리 조회
func (s *Store) Entry(ctx context.Context, code, date string) (Entry, bool, error) {
	entries, err := s.Get(ctx, code)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := Find(entries, date)
	return e, ok, nil
}

// RecordSnapshot 슬롯 가격 기록
func (s *Store) RecordSnapshot(ctx context.Context, code, date, slot string, price null.Int) (Entry, error) {
	if !slotPattern.MatchString(slot) {
		return Entry{}, fmt.Errorf("invalid slot %q (expected HHMM)", slot)
	}
	return s.Update(ctx, code, date, func(e *Entry) {
		e.SetPrice(slot, price)
	})
}

// SaveSummary 조건/기준가 저장 (슬롯 가격은 유지)
func (s *Store) SaveSummary(ctx context.Context, code, date string, sum Summary) (Entry, error) {
	return s.Update(ctx, code, date, func(e *Entry) {
		if sum.Condition1 != nil {
			e.Condition1 = sum.Condition1
		}
		if sum.Condition2 != nil {
			e.Condition2 = sum.Condition2
		}
		if sum.Condition3 != nil {
			e.Condition3 = sum.Condition3
		}
		if sum.PriceAt10am.Valid {
			e.PriceAt10am = sum.PriceAt10am
		}
		if sum.PriceAt11am.Valid {
			e.PriceAt11am = sum.PriceAt11am
		}
		if sum.ClosePrice.Valid {
			e.ClosePrice = sum.ClosePrice
		}
	})
}

// Update date 엔트리를 찾거나 만들어 fn 적용 후 저장
func (s *Store) Update(ctx context.Context, code, date string, fn func(e *Entry)) (Entry, error) {
	if _, err := market.ToAPIDate(date); err != nil {
		return Entry{}, err
	}
	if cutoff := Cutoff(s.clock.Now()); date < cutoff {
		return Entry{}, fmt.Errorf("%s %s (kept from %s): %w", code, date, cutoff, ErrExpired)
	}

	entries, err := s.load(ctx, code)
	if err != nil {
		return Entry{}, err
	}
	entries = normalize(entries, s.clock.Now())

	idx := -1
	for i := range entries {
		if entries[i].Date == date {
			idx = i
			break
		}
	}
	if idx < 0 {
		entries = append(entries, NewEntry(date))
		idx = len(entries) - 1
	}
	fn(&entries[idx])
	updated := entries[idx]

	if err := s.save(ctx, code, normalize(entries, s.clock.Now())); err != nil {
		return Entry{}, err
	}
	return updated, nil
}

// Delete date 엔트리 삭제 (없으면 false)
func (s *Store) Delete(ctx context.Context, code, date string) (bool, error) {
	entries, err := s.load(ctx, code)
	if err != nil {
		return false, err
	}

	kept := make([]Entry, 0, len(entries))
	found := false
	for _, e := range entries {
		if e.Date == date {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return false, nil
	}

	if err := s.save(ctx, code, normalize(kept, s.clock.Now())); err != nil {
		return false, err
	}
	log.Printf("[PRICELOG] %s: deleted %s", code, date)
	return true, nil
}

// Raw 저장된 JSON 원문 (없으면 빈 문자열)
func (s *Store) Raw(ctx context.Context, code string) (string, error) {
	raw, _, err := s.kv.Get(ctx, Key(code))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", Key(code), err)
	}
	return raw, nil
}

func (s *Store) load(ctx context.Context, code string) ([]Entry, error) {
	raw, ok, err := s.kv.Get(ctx, Key(code))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", Key(code), err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Printf("[PRICELOG] %s: discarding unreadable log: %v", code, err)
		return nil, nil
	}
	return entries, nil
}

func (s *Store) save(ctx context.Context, code string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", Key(code), err)
	}
	if err := s.kv.Set(ctx, Key(code), string(data), 0); err != nil {
		return fmt.Errorf("write %s: %w", Key(code), err)
	}
	return nil
}
