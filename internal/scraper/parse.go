package scraper

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/security"
)

// resultCellCount は結果一覧の1行が持つセル数。
// 連番、科目名、発表日、リンクの4列で、それ以外の行は見出しやレイアウト用として読み飛ばす。
const resultCellCount = 4

// ParseTable は結果一覧ページのHTMLからRawRecordを抽出する。
// <td>をちょうど4つ持つ<tr>を1レコードとし、2列目を科目名、3列目を発表日とする。
// セルの値はsanitizerでプレーンテキストにしてから返すが、空文字や日付の検証は行わない。
func ParseTable(r io.Reader, sanitizer security.TextSanitizer) ([]model.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}

	records := make([]model.RawRecord, 0)
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() != resultCellCount {
			return
		}
		subject, _ := cells.Eq(1).Html()
		date, _ := cells.Eq(2).Html()
		records = append(records, model.RawRecord{
			Subject: sanitizer.Sanitize(subject),
			DateRaw: sanitizer.Sanitize(date),
		})
	})

	return records, nil
}
