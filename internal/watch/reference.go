package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"stockwatch/pkg/model"
)

// ReferencePrefix 직전 개장일 OHLC 캐시 키 접두사
const ReferencePrefix = "prev-ohlc-"

// Reference 최근 개장일과 그 직전 개장일 시세
type Reference struct {
	Latest model.DailyPriceRecord `json:"latest"`
	Prev   model.DailyPriceRecord `json:"prev"`
}

// ReferenceKey 종목/날짜별 캐시 키 (date: YYYYMMDD)
func ReferenceKey(code, date string) string {
	return ReferencePrefix + code + "-" + date
}

// prevReference 캐시된 기준 시세, 없으면 일자별 시세 조회 후 자정까지 캐시
func (s *Service) prevReference(ctx context.Context, code string) (*Reference, error) {
	key := ReferenceKey(code, strings.ReplaceAll(s.clock.Today(), "-", ""))

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		log.Printf("[WATCH] %s: reference cache read failed: %v", code, err)
	} else if ok {
		var ref Reference
		if err := json.Unmarshal([]byte(raw), &ref); err == nil && ref.Prev.Date != "" {
			return &ref, nil
		}
		log.Printf("[WATCH] %s: discarding unreadable reference cache", code)
	}

	days, err := s.quotes.DailyPrices(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%s: %w", code, ErrNotFound)
	}
	if len(days) < 2 {
		return nil, fmt.Errorf("%s: no previous trading day", code)
	}

	ref := &Reference{Latest: days[0], Prev: days[1]}
	if data, err := json.Marshal(ref); err == nil {
		if err := s.cache.Set(ctx, key, string(data), s.clock.UntilMidnight()); err != nil {
			log.Printf("[WATCH] %s: reference cache write failed: %v", code, err)
		}
	}
	return ref, nil
}
