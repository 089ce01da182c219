package model

import "time"

// AccessToken is an opaque bearer token together with the time it was issued.
type AccessToken struct {
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt is the issuer's own expiry when known (zero otherwise).
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Age returns how long ago the token was issued.
func (t AccessToken) Age(now time.Time) time.Duration {
	return now.Sub(t.IssuedAt)
}

// FreshWithin reports whether the token was issued less than window ago.
func (t AccessToken) FreshWithin(now time.Time, window time.Duration) bool {
	if t.Value == "" || t.IssuedAt.IsZero() {
		return false
	}
	return t.Age(now) < window
}

// DailyPriceRecord represents one trading day's OHLC in KRW
type DailyPriceRecord struct {
	Date   string `json:"date"` // YYYYMMDD
	Open   int64  `json:"open"`
	Close  int64  `json:"close"`
	High   int64  `json:"high"`
	Low    int64  `json:"low"`
	Volume int64  `json:"volume"`
}

// Middle is the midpoint of the day's high and low.
func (r DailyPriceRecord) Middle() float64 {
	return float64(r.High+r.Low) / 2
}

// Change is close minus open.
func (r DailyPriceRecord) Change() int64 {
	return r.Close - r.Open
}

// IntradaySnapshot is a single minute row from the quote source
type IntradaySnapshot struct {
	Time             string `json:"time"` // HHMM
	Price            int64  `json:"price"`
	CumulativeVolume int64  `json:"cumulative_volume"`
}

// Stock is a watch-list entry
type Stock struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
