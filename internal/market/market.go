package market

import (
	"fmt"
	"time"
)

// 날짜/시간 포맷
const (
	LogDateLayout = "2006-01-02" // 로그 날짜 (YYYY-MM-DD)
	APIDateLayout = "20060102"   // KIS 요청/응답 날짜
)

// BackfillCutoffHour 이 시각(KST) 이전에는 당일 분봉 구간이 완성되지 않음
const BackfillCutoffHour = 11

// LogSlots 가격 로그 기록 시간대 (9:30~10:30, 5분 간격)
var LogSlots = []string{
	"0930", "0935", "0940", "0945", "0950", "0955",
	"1000", "1005", "1010", "1015", "1020", "1025", "1030",
}

// 로그 구간 시작/끝
const (
	WindowStart = "0930"
	WindowEnd   = "1030"
)

// KSTLocation 한국 시간 로케이션
func KSTLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Clock KST 기준 시각 계산
type Clock struct {
	now func() time.Time
	loc *time.Location
}

// NewClock now가 nil이면 time.Now 사용
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, loc: KSTLocation()}
}

// Now 현재 한국 시간
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Location KST 로케이션
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Today 오늘 날짜 (YYYY-MM-DD)
func (c *Clock) Today() string {
	return c.Now().Format(LogDateLayout)
}

// SlotNow 현재 시각 HHMM
func (c *Clock) SlotNow() string {
	return c.Now().Format("1504")
}

// IsTradingDay 개장일 여부 (주말 제외, 공휴일은 고려하지 않음)
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsLogSlot HHMM이 기록 시간대인지 확인
func IsLogSlot(hhmm string) bool {
	for _, s := range LogSlots {
		if s == hhmm {
			return true
		}
	}
	return false
}

// UntilMidnight 다음 자정(KST)까지 남은 시간
func (c *Clock) UntilMidnight() time.Duration {
	now := c.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
	return midnight.Sub(now)
}

// GateStatus 백필 가능 여부
type GateStatus struct {
	Open   bool
	Reason string // "ok", "weekend", "before-cutoff"
}

// BackfillGate 당일 백필 가능 여부 확인
func (c *Clock) BackfillGate() GateStatus {
	now := c.Now()
	if !IsTradingDay(now) {
		return GateStatus{Reason: "weekend"}
	}
	if now.Hour() < BackfillCutoffHour {
		return GateStatus{Reason: "before-cutoff"}
	}
	return GateStatus{Open: true, Reason: "ok"}
}

// WindowComplete date(YYYY-MM-DD)의 로그 구간이 이미 끝났는지 확인
func (c *Clock) WindowComplete(date string) bool {
	today := c.Today()
	if date < today {
		return true
	}
	return date == today && c.Now().Hour() >= BackfillCutoffHour
}

// ToLogDate YYYYMMDD → YYYY-MM-DD
func ToLogDate(apiDate string) (string, error) {
	t, err := time.Parse(APIDateLayout, apiDate)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", apiDate, err)
	}
	return t.Format(LogDateLayout), nil
}

// ToAPIDate YYYY-MM-DD → YYYYMMDD
func ToAPIDate(logDate string) (string, error) {
	t, err := time.Parse(LogDateLayout, logDate)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", logDate, err)
	}
	return t.Format(APIDateLayout), nil
}

// InRange start <= hhmm <= end (HHMM 문자열 비교)
func InRange(hhmm, start, end string) bool {
	return hhmm >= start && hhmm <= end
}
