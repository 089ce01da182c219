package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/market"
	"stockwatch/internal/pricelog"
	"stockwatch/internal/watch"
)

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error       string        `json:"error"`
	Message     string        `json:"message,omitempty"`
	Hint        string        `json:"hint,omitempty"`
	WaitSeconds int           `json:"waitSeconds,omitempty"`
	Details     *kis.APIError `json:"details,omitempty"`
}

// LogsResponse 로그 조회/저장 응답
type LogsResponse struct {
	Success bool             `json:"success,omitempty"`
	Logs    []pricelog.Entry `json:"logs"`
}

// LogRequest 하루 분석 결과 저장 요청
type LogRequest struct {
	Date string `json:"date"`
	pricelog.Summary
}

// FetchTodayResponse 당일 로그 백필 응답
type FetchTodayResponse struct {
	Success bool                     `json:"success"`
	Date    string                   `json:"date"`
	Message string                   `json:"message"`
	Result  *pricelog.BackfillResult `json:"result"`
}

// handleHealth GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "서버가 정상 작동 중입니다.",
	})
}

// handleStocks GET /api/stocks?codes=005930,000660
func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	codes := strings.Split(r.URL.Query().Get("codes"), ",")

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.watch.Stocks(ctx, codes)
	if err != nil {
		if errors.Is(err, watch.ErrNoCodes) {
			respondError(w, http.StatusBadRequest, "종목 코드가 없습니다. codes 파라미터를 제공해주세요. (예: ?codes=005930,000660)")
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleStock GET /api/stock/{code}
func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(mux.Vars(r)["code"])

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	d, err := s.watch.Stock(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, watch.ErrNoCodes):
			respondError(w, http.StatusBadRequest, "종목 코드가 필요합니다.")
		case errors.Is(err, watch.ErrNotFound):
			respondError(w, http.StatusNotFound, "주식 정보를 찾을 수 없습니다.")
		default:
			respondServiceError(w, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// handleGetLogs GET /api/logs/{code}
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	logs, err := s.watch.LogEntries(r.Context(), code)
	if err != nil {
		log.Printf("[WEB] logs %s: %v", code, err)
		respondError(w, http.StatusInternalServerError, "로그 조회 중 오류가 발생했습니다.")
		return
	}
	if logs == nil {
		logs = []pricelog.Entry{}
	}
	respondJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}

// handleSaveLog POST /api/logs/{code}
func (s *Server) handleSaveLog(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req LogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Date == "" {
		respondError(w, http.StatusBadRequest, "날짜가 필요합니다.")
		return
	}
	if _, err := market.ToAPIDate(req.Date); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := s.watch.SaveLog(r.Context(), code, req.Date, req.Summary)
	if errors.Is(err, pricelog.ErrExpired) {
		respondError(w, http.StatusBadRequest, "보관 기간(60일)이 지난 날짜입니다.")
		return
	}
	if err != nil {
		log.Printf("[WEB] save log %s %s: %v", code, req.Date, err)
		respondError(w, http.StatusInternalServerError, "로그 저장 중 오류가 발생했습니다.")
		return
	}
	respondJSON(w, http.StatusOK, LogsResponse{Success: true, Logs: logs})
}

// handleDeleteLog DELETE /api/logs/{code}?date=YYYY-MM-DD
func (s *Server) handleDeleteLog(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	date := r.URL.Query().Get("date")
	if date == "" {
		respondError(w, http.StatusBadRequest, "날짜가 필요합니다.")
		return
	}

	ok, err := s.watch.DeleteLog(r.Context(), code, date)
	if err != nil {
		log.Printf("[WEB] delete log %s %s: %v", code, date, err)
		respondError(w, http.StatusInternalServerError, "로그 삭제 중 오류가 발생했습니다.")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "해당 날짜의 로그가 없습니다.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "date": date})
}

// handleFetchToday GET /api/logs/fetch-today-prices?code=005930
func (s *Server) handleFetchToday(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, "종목 코드가 필요합니다.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.watch.FetchToday(ctx, code)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := FetchTodayResponse{Date: res.Date, Result: res}
	switch res.Status {
	case pricelog.StatusSkipped:
		if res.Reason == "weekend" {
			resp.Message = "오늘은 주식시장 휴장일입니다."
		} else {
			resp.Message = "11am 이후에만 사용 가능합니다."
		}
	case pricelog.StatusUpToDate:
		resp.Success = true
		resp.Message = "이미 로그가 존재합니다."
	default:
		resp.Success = true
		resp.Message = "가격 로그를 조회하고 저장했습니다."
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleLogPrices GET /api/cron/log-prices
func (s *Server) handleLogPrices(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedCron(r) {
		log.Printf("[WEB] cron auth failed from %s", r.RemoteAddr)
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "Unauthorized",
			Message: "Invalid or missing cron secret",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	run, err := s.watch.LogPrices(ctx)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// authorizedCron 시크릿이 설정된 경우에만 검사 (Bearer 또는 X-Cron-Secret)
func (s *Server) authorizedCron(r *http.Request) bool {
	if s.cronSecret == "" {
		return true
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	header := strings.TrimSpace(r.Header.Get("X-Cron-Secret"))
	return auth == "Bearer "+s.cronSecret || header == s.cronSecret
}

// respondServiceError 에러 종류별 상태 코드
func respondServiceError(w http.ResponseWriter, err error) {
	log.Printf("[WEB] %v", err)

	var cfgErr *kis.ConfigError
	var issErr *kis.IssuanceError
	var apiErr *kis.APIError

	switch {
	case errors.As(err, &cfgErr):
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "API 키가 설정되지 않았습니다.",
			Hint:  "환경변수에 " + strings.Join(cfgErr.Missing, ", ") + "를 설정해주세요.",
		})
	case errors.As(err, &issErr) && issErr.RateLimited:
		wait := int(math.Ceil(issErr.RetryAfter.Seconds()))
		if wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(wait))
		}
		respondJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:       "토큰 발급 제한",
			Message:     err.Error(),
			WaitSeconds: wait,
		})
	case errors.As(err, &issErr):
		respondJSON(w, http.StatusBadGateway, ErrorResponse{Error: "토큰 발급 실패", Message: err.Error()})
	case errors.As(err, &apiErr) && apiErr.RtCd != "" && apiErr.RtCd != "0":
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "API 오류: " + apiErr.Msg1,
			Details: apiErr,
		})
	case errors.Is(err, context.DeadlineExceeded):
		respondJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "요청 시간이 초과되었습니다.", Message: err.Error()})
	default:
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "서버 오류가 발생했습니다.", Message: err.Error()})
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WEB] encode response: %v", err)
	}
}
