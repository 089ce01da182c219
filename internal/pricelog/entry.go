package pricelog

import (
	"log"
	"sort"
	"time"

	"github.com/guregu/null/v6"

	"stockwatch/internal/market"
)

// RetentionDays 로그 보관 기간
const RetentionDays = 60

// Entry 종목별 하루치 로그
type Entry struct {
	Date        string              `json:"date"` // YYYY-MM-DD
	Prices      map[string]null.Int `json:"prices"`
	Condition1  *bool               `json:"condition1,omitempty"`
	Condition2  *bool               `json:"condition2,omitempty"`
	Condition3  *bool               `json:"condition3,omitempty"`
	PriceAt10am null.Int            `json:"priceAt10am,omitzero"`
	PriceAt11am null.Int            `json:"priceAt11am,omitzero"`
	ClosePrice  null.Int            `json:"closePrice,omitzero"`
}

// NewEntry 모든 슬롯이 null인 엔트리
func NewEntry(date string) Entry {
	e := Entry{Date: date, Prices: make(map[string]null.Int, len(market.LogSlots))}
	for _, slot := range market.LogSlots {
		e.Prices[slot] = null.Int{}
	}
	return e
}

// HasConditions 세 조건이 모두 저장되어 있는지
func (e Entry) HasConditions() bool {
	return e.Condition1 != nil && e.Condition2 != nil && e.Condition3 != nil
}

// SetPrice 슬롯 값 설정 (null은 기존 값을 지우지 않음)
func (e *Entry) SetPrice(slot string, price null.Int) {
	if e.Prices == nil {
		e.Prices = make(map[string]null.Int)
	}
	if !price.Valid || price.Int64 <= 0 {
		if _, ok := e.Prices[slot]; !ok {
			e.Prices[slot] = null.Int{}
		}
		return
	}
	e.Prices[slot] = price
}

// Merge 새로 조회한 슬롯 값 반영
func (e *Entry) Merge(fresh map[string]null.Int) {
	for slot, price := range fresh {
		e.SetPrice(slot, price)
	}
}

// ValidCount null이 아닌 슬롯 수
func (e Entry) ValidCount() int {
	n := 0
	for _, p := range e.Prices {
		if p.Valid {
			n++
		}
	}
	return n
}

// Cutoff 보관 기간의 첫 날짜 (YYYY-MM-DD, 이보다 이전은 정리 대상)
func Cutoff(now time.Time) string {
	return now.AddDate(0, 0, -RetentionDays).Format(market.LogDateLayout)
}

// normalize 날짜 검증, 중복 병합, 보관 기간 정리, 날짜 내림차순 정렬
func normalize(entries []Entry, now time.Time) []Entry {
	cutoff := Cutoff(now)

	byDate := make(map[string]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, err := time.Parse(market.LogDateLayout, e.Date); err != nil {
			log.Printf("[PRICELOG] dropping entry with invalid date %q", e.Date)
			continue
		}
		if e.Date < cutoff {
			continue
		}
		if e.Prices == nil {
			e.Prices = make(map[string]null.Int)
		}
		if i, ok := byDate[e.Date]; ok {
			mergeDuplicate(&out[i], e)
			continue
		}
		byDate[e.Date] = len(out)
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

func mergeDuplicate(dst *Entry, src Entry) {
	dst.Merge(src.Prices)
	if dst.Condition1 == nil {
		dst.Condition1 = src.Condition1
	}
	if dst.Condition2 == nil {
		dst.Condition2 = src.Condition2
	}
	if dst.Condition3 == nil {
		dst.Condition3 = src.Condition3
	}
	if !dst.PriceAt10am.Valid {
		dst.PriceAt10am = src.PriceAt10am
	}
	if !dst.PriceAt11am.Valid {
		dst.PriceAt11am = src.PriceAt11am
	}
	if !dst.ClosePrice.Valid {
		dst.ClosePrice = src.ClosePrice
	}
}

// Find date 엔트리
func Find(entries []Entry, date string) (Entry, bool) {
	for _, e := range entries {
		if e.Date == date {
			return e, true
		}
	}
	return Entry{}, false
}
