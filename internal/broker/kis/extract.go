package kis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field 응답 레코드에서 꺼내는 값의 종류
type Field string

const (
	FieldName      Field = "name"
	FieldPrice     Field = "price"
	FieldDate      Field = "date"
	FieldTime      Field = "time"
	FieldOpen      Field = "open"
	FieldHigh      Field = "high"
	FieldLow       Field = "low"
	FieldClose     Field = "close"
	FieldCumVolume Field = "cumVolume"
	FieldVolume    Field = "volume"
)

// ExtractionRules 필드별 후보 키 (앞쪽 우선, 비어있지 않은 첫 값 사용)
var ExtractionRules = map[Field][]string{
	FieldName:      {"hts_kor_isnm", "isu_kor_nm", "isu_nm", "itms_nm"},
	FieldPrice:     {"stck_prpr", "stck_clpr"},
	FieldDate:      {"stck_bsop_date", "stck_cntg_date"},
	FieldTime:      {"stck_cntg_hour", "stck_std_time"},
	FieldOpen:      {"stck_oprc"},
	FieldHigh:      {"stck_hgpr"},
	FieldLow:       {"stck_lwpr"},
	FieldClose:     {"stck_clpr", "stck_prpr"},
	FieldCumVolume: {"acml_vol"},
	FieldVolume:    {"cntg_vol"},
}

// Record 정규화된 응답 레코드 (모든 값은 문자열)
type Record map[string]string

// Lookup 규칙 순서대로 첫 번째 비어있지 않은 값
func (r Record) Lookup(f Field) (string, bool) {
	for _, key := range ExtractionRules[f] {
		if v := strings.TrimSpace(r[key]); v != "" {
			return v, true
		}
	}
	return "", false
}

// Int 정수 값 (소수점 표기는 버림)
func (r Record) Int(f Field) (int64, bool) {
	v, ok := r.Lookup(f)
	if !ok {
		return 0, false
	}
	return parseInt(v)
}

func parseInt(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// normalize output 필드를 레코드 목록으로 변환 (객체, 배열, null 허용)
func normalize(raw json.RawMessage) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var rows []map[string]any
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode output array: %w", err)
		}
	case '{':
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode output object: %w", err)
		}
		rows = append(rows, row)
	default:
		return nil, fmt.Errorf("unexpected output shape: %.20s", raw)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(row))
		for k, v := range row {
			switch val := v.(type) {
			case nil:
			case string:
				rec[k] = val
			case float64:
				rec[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				rec[k] = fmt.Sprint(val)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
