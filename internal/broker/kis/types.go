package kis

import "encoding/json"

// Credentials KIS API 인증 정보
type Credentials struct {
	AppKey    string
	AppSecret string
}

// Valid 앱키/시크릿 설정 여부
func (c Credentials) Valid() bool {
	return c.AppKey != "" && c.AppSecret != ""
}

// DefaultBaseURL 실전투자 도메인
const DefaultBaseURL = "https://openapi.koreainvestment.com:9443"

// 국내주식 시세 거래 ID
const (
	TrIDPrice       = "FHKST01010100" // 주식현재가 시세
	TrIDDailyPrice  = "FHKST01010400" // 주식현재가 일자별
	TrIDMinuteChart = "FHKST03010230" // 주식일별분봉조회
)

// API 경로
const (
	pathToken       = "/oauth2/tokenP"
	pathPrice       = "/uapi/domestic-stock/v1/quotations/inquire-price"
	pathDailyPrice  = "/uapi/domestic-stock/v1/quotations/inquire-daily-price"
	pathMinuteChart = "/uapi/domestic-stock/v1/quotations/inquire-time-dailychartprice"
)

// KIS 에러 코드
const (
	ErrCodeTokenRateLimit   = "EGW00133" // 접근토큰 발급 잠시 후 다시 시도 (1분당 1회)
	ErrCodeRequestRateLimit = "EGW00201" // 초당 거래건수 초과
	ErrCodeTokenExpired     = "EGW00123" // 기간이 만료된 token
)

// tokenRequest 토큰 발급 요청
type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

// tokenResponse 토큰 발급 응답 (실패 시 error_code 포함)
type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`                 // 초 (86400 = 24시간)
	AccessTokenExpired string `json:"access_token_token_expired"` // "2006-01-02 15:04:05" KST
	ErrorCode          string `json:"error_code"`
	ErrorDescription   string `json:"error_description"`
}

// quoteResponse 시세 조회 공통 응답
// output은 엔드포인트에 따라 객체 또는 배열
type quoteResponse struct {
	RtCd    string          `json:"rt_cd"` // 성공: "0"
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

// apiError API 에러 응답 본문
type apiError struct {
	RtCd      string `json:"rt_cd"`
	MsgCd     string `json:"msg_cd"`
	Msg1      string `json:"msg1"`
	ErrorCode string `json:"error_code"`
}
