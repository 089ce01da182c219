package watch

import (
	"context"
	"log"
	"strings"
	"unicode"

	"stockwatch/internal/broker/kis"
)

// UnknownName 종목명을 알 수 없을 때 표시
const UnknownName = "알 수 없음"

// IsValidStockName 한글이 포함된 실제 종목명인지 확인 (숫자만 있거나 비어있으면 무효)
func IsValidStockName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || name == UnknownName {
		return false
	}

	digits := true
	hangul := false
	for _, r := range name {
		if !unicode.IsDigit(r) {
			digits = false
		}
		if unicode.Is(unicode.Hangul, r) {
			hangul = true
		}
	}
	return !digits && hangul
}

// Name 종목명 조회 (API → 설정 이름표 → 알 수 없음)
func (s *Service) Name(ctx context.Context, code string) string {
	q, err := s.quotes.Quote(ctx, code)
	if err != nil {
		if !kis.IsFatal(err) {
			log.Printf("[WATCH] %s: name lookup failed: %v", code, err)
		}
		return s.resolveName(code, "")
	}
	return s.resolveName(code, q.Name)
}

func (s *Service) resolveName(code, fromAPI string) string {
	if IsValidStockName(fromAPI) {
		return strings.TrimSpace(fromAPI)
	}
	if name, ok := s.names[code]; ok && IsValidStockName(name) {
		return name
	}
	return UnknownName
}
