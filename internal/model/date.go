package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// dateLayout はDateのテキスト表現（ISO 8601の暦日）。
const dateLayout = "2006-01-02"

// Date はタイムゾーンを持たない暦日を表す。
// 結果発表日はサイト上で日付のみが掲載されるため、時刻情報は保持しない。
// ゼロ値は「日付なし」を表す。
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate は年月日からDateを生成する。
// 実在しない日付（2月31日など）の場合はエラーを返す。
func NewDate(year int, month time.Month, day int) (Date, error) {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d is not a calendar date", ErrInvalidDate, year, int(month), day)
	}
	return Date{Year: year, Month: month, Day: day}, nil
}

// ParseDate は "YYYY-MM-DD" 形式の文字列をDateに変換する。
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// MustParseDate はParseDateの失敗時にpanicする版。テストと定数定義用。
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf はtime.Timeの暦日部分を取り出す。
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// IsZero は日付が未設定かどうかを返す。
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time はDateをUTC 0時のtime.Timeに変換する。
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String は "YYYY-MM-DD" 形式の文字列を返す。
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before はdがotherより前の日付かどうかを返す。
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// MarshalText はJSONなどのテキスト形式で "YYYY-MM-DD" を出力する。
func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText は "YYYY-MM-DD" 形式のテキストを読み込む。
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value はdatabase/sqlのdriver.Valuerを実装する。
// PostgreSQLのDATE型にはテキスト表現で渡す。
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan はdatabase/sqlのsql.Scannerを実装する。
// lib/pqはDATE型をtime.Timeとして返すが、テキストで返るドライバにも対応する。
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into model.Date", src)
	}
}

// NullDate はNULL許容のDate。
// 変更履歴のresult_date/previous_dateのようにNULLを取りうる列で使用する。
type NullDate struct {
	Date  Date
	Valid bool
}

// SomeDate は有効な値を持つNullDateを返す。
func SomeDate(d Date) NullDate {
	return NullDate{Date: d, Valid: true}
}

// Value はdriver.Valuerを実装する。
func (n NullDate) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Date.Value()
}

// Scan はsql.Scannerを実装する。
func (n *NullDate) Scan(src interface{}) error {
	if src == nil {
		*n = NullDate{}
		return nil
	}
	if err := n.Date.Scan(src); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// MarshalJSON はNULLの場合にnullを出力する。
func (n NullDate) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(`"` + n.Date.String() + `"`), nil
}

// String は有効な場合は日付、NULLの場合は空文字列を返す。
func (n NullDate) String() string {
	if !n.Valid {
		return ""
	}
	return n.Date.String()
}
