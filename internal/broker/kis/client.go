package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"stockwatch/internal/market"
	"stockwatch/internal/ratelimit"
	"stockwatch/pkg/model"
)

// TokenSource 접근토큰 공급자 (TokenManager)
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

// ClientOptions 클라이언트 설정
type ClientOptions struct {
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
	Retry             *RetryPolicy
}

// Client KIS 국내주식 시세 클라이언트
type Client struct {
	tokens     TokenSource
	creds      Credentials
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retry      RetryPolicy
}

// Quote 현재가 조회 결과
type Quote struct {
	Code  string   `json:"code"`
	Name  string   `json:"name"`
	Price null.Int `json:"price"`
}

// NewClient KIS 클라이언트 생성
func NewClient(creds Credentials, tokens TokenSource, opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 300 // 초당 5회
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	return &Client{
		tokens:     tokens,
		creds:      creds,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    ratelimit.NewLimiter("kis", opts.RequestsPerMinute),
		retry:      retry,
	}
}

// Name 브로커 이름
func (c *Client) Name() string {
	return "kis"
}

// Quote 현재가와 종목명 조회
func (c *Client) Quote(ctx context.Context, code string) (*Quote, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)

	resp, err := c.get(ctx, pathPrice, TrIDPrice, params)
	if err != nil {
		return nil, fmt.Errorf("inquire price %s: %w", code, err)
	}

	records, err := normalize(resp.Output)
	if err == nil && len(records) == 0 {
		records, err = normalize(resp.Output1)
	}
	if err != nil {
		return nil, fmt.Errorf("inquire price %s: %w", code, err)
	}

	q := &Quote{Code: code}
	if len(records) == 0 {
		return q, nil
	}
	q.Name, _ = records[0].Lookup(FieldName)
	if p, ok := records[0].Int(FieldPrice); ok && p > 0 {
		q.Price = null.IntFrom(p)
	}
	return q, nil
}

// CurrentPrice 현재가 (없으면 null)
func (c *Client) CurrentPrice(ctx context.Context, code string) (null.Int, error) {
	q, err := c.Quote(ctx, code)
	if err != nil {
		return null.Int{}, err
	}
	return q.Price, nil
}

// StockName 종목명 (없으면 빈 문자열)
func (c *Client) StockName(ctx context.Context, code string) (string, error) {
	q, err := c.Quote(ctx, code)
	if err != nil {
		return "", err
	}
	return q.Name, nil
}

// DailyPrices 일자별 시세 (최신일 먼저)
func (c *Client) DailyPrices(ctx context.Context, code string) ([]model.DailyPriceRecord, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)
	params.Set("FID_PERIOD_DIV_CODE", "D")
	params.Set("FID_ORG_ADJ_PRC", "0") // 수정주가 반영

	resp, err := c.get(ctx, pathDailyPrice, TrIDDailyPrice, params)
	if err != nil {
		return nil, fmt.Errorf("inquire daily price %s: %w", code, err)
	}

	records, err := normalize(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("inquire daily price %s: %w", code, err)
	}

	days := make([]model.DailyPriceRecord, 0, len(records))
	for _, r := range records {
		date, ok := r.Lookup(FieldDate)
		if !ok {
			continue
		}
		closePrice, ok := r.Int(FieldClose)
		if !ok || closePrice <= 0 {
			continue
		}
		d := model.DailyPriceRecord{Date: date, Close: closePrice}
		d.Open, _ = r.Int(FieldOpen)
		d.High, _ = r.Int(FieldHigh)
		d.Low, _ = r.Int(FieldLow)
		d.Volume, _ = r.Int(FieldCumVolume)
		days = append(days, d)
	}

	sort.SliceStable(days, func(i, j int) bool { return days[i].Date > days[j].Date })
	return days, nil
}

// Intraday 분봉 조회 (date: YYYY-MM-DD, end: HHMM 까지, 시간 오름차순)
// 누적 거래량이 없으면 체결 거래량을 순서대로 합산
func (c *Client) Intraday(ctx context.Context, code, date, end string) ([]model.IntradaySnapshot, error) {
	apiDate, err := market.ToAPIDate(date)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)
	params.Set("FID_INPUT_DATE_1", apiDate)
	params.Set("FID_INPUT_HOUR_1", end+"00")
	params.Set("FID_PW_DATA_INCU_YN", "Y")
	params.Set("FID_FAKE_TICK_INCU_YN", "")

	resp, err := c.get(ctx, pathMinuteChart, TrIDMinuteChart, params)
	if err != nil {
		return nil, fmt.Errorf("inquire minute chart %s %s: %w", code, date, err)
	}

	records, err := normalize(resp.Output2)
	if err != nil {
		return nil, fmt.Errorf("inquire minute chart %s %s: %w", code, date, err)
	}

	type row struct {
		snap      model.IntradaySnapshot
		hasCum    bool
		minuteVol int64
	}

	seen := make(map[string]bool, len(records))
	rows := make([]row, 0, len(records))
	for _, r := range records {
		if d, ok := r.Lookup(FieldDate); ok && d != apiDate {
			continue
		}
		hms, ok := r.Lookup(FieldTime)
		if !ok || len(hms) < 4 {
			continue
		}
		hhmm := hms[:4]
		if hhmm > end || seen[hhmm] {
			continue
		}
		price, ok := r.Int(FieldPrice)
		if !ok || price <= 0 {
			continue
		}
		seen[hhmm] = true

		rw := row{snap: model.IntradaySnapshot{Time: hhmm, Price: price}}
		if cum, ok := r.Int(FieldCumVolume); ok {
			rw.snap.CumulativeVolume = cum
			rw.hasCum = true
		}
		rw.minuteVol, _ = r.Int(FieldVolume)
		rows = append(rows, rw)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].snap.Time < rows[j].snap.Time })

	snaps := make([]model.IntradaySnapshot, len(rows))
	var running int64
	for i, rw := range rows {
		running += rw.minuteVol
		if !rw.hasCum {
			rw.snap.CumulativeVolume = running
		}
		snaps[i] = rw.snap
	}
	return snaps, nil
}

// get 재시도 정책을 적용한 GET 요청
// 토큰 만료 응답은 토큰을 무효화하고 한 번만 다시 요청
func (c *Client) get(ctx context.Context, path, trID string, params url.Values) (*quoteResponse, error) {
	var out *quoteResponse
	refreshed := false

	err := c.retry.Do(ctx, trID, func(ctx context.Context) error {
		resp, err := c.doRequest(ctx, path, trID, params)
		if IsTokenExpired(err) && !refreshed && c.tokens != nil {
			refreshed = true
			log.Printf("[KIS] token rejected as expired, reissuing")
			c.tokens.Invalidate(ctx)
			resp, err = c.doRequest(ctx, path, trID, params)
		}
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// doRequest 단일 HTTP 요청
func (c *Client) doRequest(ctx context.Context, path, trID string, params url.Values) (*quoteResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// KIS 필수 헤더
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.creds.AppKey)
	req.Header.Set("appsecret", c.creds.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Msg1: strings.TrimSpace(string(body))}
		var e apiError
		if json.Unmarshal(body, &e) == nil {
			apiErr.RtCd = e.RtCd
			apiErr.MsgCd = e.MsgCd
			if e.MsgCd == "" {
				apiErr.MsgCd = e.ErrorCode
			}
			if e.Msg1 != "" {
				apiErr.Msg1 = e.Msg1
			}
		}
		return nil, c.failed(ctx, apiErr)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if qr.RtCd != "" && qr.RtCd != "0" {
		return nil, c.failed(ctx, &APIError{Status: resp.StatusCode, RtCd: qr.RtCd, MsgCd: qr.MsgCd, Msg1: qr.Msg1})
	}

	c.limiter.ResetBackoff()
	return &qr, nil
}

// failed 초당 호출 제한이면 백오프만큼 대기 후 에러 반환 (재시도는 정책이 결정)
func (c *Client) failed(ctx context.Context, apiErr *APIError) error {
	if apiErr.MsgCd == ErrCodeRequestRateLimit {
		wait := c.limiter.SignalRateLimited()
		log.Printf("[KIS] request rate limited, backing off %s", wait)
		sleep := c.retry.Sleep
		if sleep == nil {
			sleep = sleepContext
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return apiErr
}
