package kis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	mu          sync.Mutex
	value       string
	invalidated int
}

func (s *staticTokens) GetToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *staticTokens) Invalidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	s.value = "fresh-token"
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	policy := DefaultRetryPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	tokens := &staticTokens{value: "test-token"}
	c := NewClient(testCreds, tokens, ClientOptions{
		BaseURL:           srv.URL,
		RequestsPerMinute: 6000,
		Timeout:           5 * time.Second,
		Retry:             &policy,
	})
	return c, tokens
}

func TestClientQuote(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uapi/domestic-stock/v1/quotations/inquire-price", r.URL.Path)
		assert.Equal(t, TrIDPrice, r.Header.Get("tr_id"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("authorization"))
		assert.Equal(t, testCreds.AppKey, r.Header.Get("appkey"))
		assert.Equal(t, "005930", r.URL.Query().Get("FID_INPUT_ISCD"))
		assert.Equal(t, "J", r.URL.Query().Get("FID_COND_MRKT_DIV_CODE"))

		w.Write([]byte(`{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리 되었습니다.","output":{"stck_prpr":"68100","hts_kor_isnm":"삼성전자"}}`))
	})

	q, err := c.Quote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "삼성전자", q.Name)
	assert.True(t, q.Price.Valid)
	assert.Equal(t, int64(68100), q.Price.Int64)
}

func TestClientCurrentPriceZeroIsNull(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rt_cd":"0","output":{"stck_prpr":"0"}}`))
	})

	p, err := c.CurrentPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.False(t, p.Valid)
}

func TestClientDailyPrices(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TrIDDailyPrice, r.Header.Get("tr_id"))
		assert.Equal(t, "D", r.URL.Query().Get("FID_PERIOD_DIV_CODE"))

		w.Write([]byte(`{"rt_cd":"0","output":[
			{"stck_bsop_date":"20250303","stck_oprc":"67500","stck_hgpr":"68600","stck_lwpr":"67500","stck_clpr":"68300","acml_vol":"1000"},
			{"stck_bsop_date":"20250304","stck_oprc":"68000","stck_hgpr":"68500","stck_lwpr":"67600","stck_clpr":"68100","acml_vol":"2000"},
			{"stck_bsop_date":"","stck_clpr":"1"},
			{"stck_bsop_date":"20250228","stck_clpr":"0"}
		]}`))
	})

	days, err := c.DailyPrices(context.Background(), "005930")
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "20250304", days[0].Date)
	assert.Equal(t, "20250303", days[1].Date)
	assert.Equal(t, int64(68600), days[1].High)
	assert.Equal(t, int64(67500), days[1].Low)
	assert.Equal(t, 68050.0, days[1].Middle())
	assert.Equal(t, int64(2000), days[0].Volume)
}

func TestClientIntraday(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, TrIDMinuteChart, r.Header.Get("tr_id"))
		assert.Equal(t, "20250304", q.Get("FID_INPUT_DATE_1"))
		assert.Equal(t, "103000", q.Get("FID_INPUT_HOUR_1"))

		// 최신 시각이 먼저 오는 KIS 순서
		w.Write([]byte(`{"rt_cd":"0","output2":[
			{"stck_bsop_date":"20250304","stck_cntg_hour":"103100","stck_prpr":"68400","cntg_vol":"9"},
			{"stck_bsop_date":"20250304","stck_cntg_hour":"093100","stck_prpr":"68200","cntg_vol":"30"},
			{"stck_bsop_date":"20250304","stck_cntg_hour":"093000","stck_prpr":"68100","cntg_vol":"20"},
			{"stck_bsop_date":"20250304","stck_cntg_hour":"092900","stck_prpr":"68000","cntg_vol":"10"},
			{"stck_bsop_date":"20250303","stck_cntg_hour":"092800","stck_prpr":"67000","cntg_vol":"5"},
			{"stck_bsop_date":"20250304","stck_cntg_hour":"092700","stck_prpr":"0","cntg_vol":"5"}
		]}`))
	})

	snaps, err := c.Intraday(context.Background(), "005930", "2025-03-04", "1030")
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, "0929", snaps[0].Time)
	assert.Equal(t, "0930", snaps[1].Time)
	assert.Equal(t, "0931", snaps[2].Time)
	assert.Equal(t, int64(68100), snaps[1].Price)
	assert.Equal(t, []int64{10, 30, 60}, []int64{snaps[0].CumulativeVolume, snaps[1].CumulativeVolume, snaps[2].CumulativeVolume})
}

func TestClientIntradayBadDate(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.Intraday(context.Background(), "005930", "20250304", "1030")
	assert.Error(t, err)
}

func TestClientRetriesRequestRateLimit(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"rt_cd":"1","msg_cd":"EGW00201","msg1":"초당 거래건수를 초과하였습니다."}`))
			return
		}
		w.Write([]byte(`{"rt_cd":"0","output":{"stck_prpr":"70000"}}`))
	})

	p, err := c.CurrentPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(70000), p.Int64)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"rt_cd":"1","msg_cd":"EGW00201","msg1":"초당 거래건수를 초과하였습니다."}`))
	})

	_, err := c.CurrentPrice(context.Background(), "005930")

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClientDoesNotRetryAPIError(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"rt_cd":"1","msg_cd":"OPSQ0002","msg1":"없는 서비스 코드 입니다"}`))
	})

	_, err := c.DailyPrices(context.Background(), "005930")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "OPSQ0002", apiErr.MsgCd)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientReissuesExpiredToken(t *testing.T) {
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"rt_cd":"1","msg_cd":"EGW00123","msg1":"기간이 만료된 token 입니다."}`))
			return
		}
		w.Write([]byte(`{"rt_cd":"0","output":{"stck_prpr":"68100"}}`))
	})

	p, err := c.CurrentPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(68100), p.Int64)
	assert.Equal(t, 1, tokens.invalidated)
}
