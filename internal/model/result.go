// Package model はドメインモデルを定義する。
package model

import (
	"sort"
	"time"
)

// RawRecord はスクレイパーが結果一覧のテーブル1行から取り出した未加工のレコード。
// 日付は "08- November- 2025" のような表記揺れを含む文字列のまま保持する。
type RawRecord struct {
	Subject string `json:"course_name"`
	DateRaw string `json:"result_date"`
}

// ResultKey は科目名と結果発表日の組。
// 一意性は科目名単独ではなく、この組に対して定義される。
type ResultKey struct {
	Subject string
	Date    Date
}

// Less は科目名、日付の順でキーを比較する。
func (k ResultKey) Less(other ResultKey) bool {
	if k.Subject != other.Subject {
		return k.Subject < other.Subject
	}
	return k.Date.Before(other.Date)
}

// String はログ出力用の "科目名/日付" 表記を返す。
func (k ResultKey) String() string {
	return k.Subject + "/" + k.Date.String()
}

// SortKeys はキーのスライスを科目名、日付の順で並べ替える。
func SortKeys(keys []ResultKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// ActiveRecord はresultsテーブルの1行を表す。
// 観測された組ごとに1行のみ存在し、削除されずにIsActiveが切り替わる（論理削除）。
type ActiveRecord struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"course_name"`
	Date      Date      `json:"result_date"`
	IsActive  bool      `json:"is_active"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Key はレコードのResultKeyを返す。
func (r ActiveRecord) Key() ResultKey {
	return ResultKey{Subject: r.Subject, Date: r.Date}
}

// TimelineRecord はcourse_result_timelineテーブルの1行を表す。
// これまでに観測された全ての組の履歴で、削除されることはない。
type TimelineRecord struct {
	Subject           string    `json:"course_name"`
	Date              Date      `json:"result_date"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	TimesAppeared     int       `json:"times_appeared"`
	IsCurrentlyActive bool      `json:"is_currently_active"`
}

// ActiveView は現在アクティブな組を科目名ごとの日付集合として表す。
// results.is_active = true の行から構築され、差分計算の「前回」側になる。
type ActiveView map[string]map[Date]struct{}

// NewActiveView はキーの列からActiveViewを構築する。
func NewActiveView(keys ...ResultKey) ActiveView {
	v := make(ActiveView)
	for _, k := range keys {
		v.Add(k)
	}
	return v
}

// Add は組をビューに追加する。
func (v ActiveView) Add(k ResultKey) {
	dates, ok := v[k.Subject]
	if !ok {
		dates = make(map[Date]struct{})
		v[k.Subject] = dates
	}
	dates[k.Date] = struct{}{}
}

// Contains は組がビューに含まれるかどうかを返す。
func (v ActiveView) Contains(k ResultKey) bool {
	_, ok := v[k.Subject][k.Date]
	return ok
}

// Len はビューに含まれる組の総数を返す。
func (v ActiveView) Len() int {
	n := 0
	for _, dates := range v {
		n += len(dates)
	}
	return n
}
