// Package snapshot はスクレイプ結果を正規化し、(科目名, 日付) の組の集合に変換する。
package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/resultwatch/internal/model"
)

// MinYear は受け付ける最小の年。
const MinYear = 1

// months は月名（完全形と3文字略称）から月への対応表。
// 掲載元は9月に "Sept" を使うことがあるため、それも受け付ける。
var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// NormalizeDate は "08- November- 2025" のような日-月名-年の文字列を暦日に変換する。
// 各要素の前後の空白と月名の大文字小文字は無視する。
// 変換できない場合はmodel.ErrInvalidDateをラップしたエラーを返す。
func NormalizeDate(raw string) (model.Date, error) {
	parts := strings.Split(raw, "-")
	if len(parts) != 3 {
		return model.Date{}, fmt.Errorf("%w: %q: expected day-month-year, got %d parts", model.ErrInvalidDate, raw, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil || !isDigits(parts[0]) {
		return model.Date{}, fmt.Errorf("%w: %q: day %q is not a number", model.ErrInvalidDate, raw, parts[0])
	}
	month, ok := months[strings.ToLower(parts[1])]
	if !ok {
		return model.Date{}, fmt.Errorf("%w: %q: unknown month %q", model.ErrInvalidDate, raw, parts[1])
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil || len(parts[2]) != 4 || !isDigits(parts[2]) {
		return model.Date{}, fmt.Errorf("%w: %q: year %q is not a 4-digit number", model.ErrInvalidDate, raw, parts[2])
	}
	// PostgreSQLのDATEは西暦0年を持たない
	if year < MinYear {
		return model.Date{}, fmt.Errorf("%w: %q: year %d is out of range", model.ErrInvalidDate, raw, year)
	}

	d, err := model.NewDate(year, month, day)
	if err != nil {
		return model.Date{}, fmt.Errorf("%q: %w", raw, err)
	}
	return d, nil
}

// isDigits はsが空でなくASCII数字だけから成るかどうかを返す。
// strconv.Atoiは "+8" のような符号付きの値も受け付けるため別に確認する。
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
