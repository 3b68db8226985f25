// Package notify は変更履歴を読み出し、Webhookとプッシュ通知で配信する。
//
// 配信は宛先単位でnotification_deliveriesに記録するため、途中で失敗しても
// 次のサイクルでは未配信の宛先にだけ再送される。変更履歴1件の全宛先への
// 配信が揃った時点でnotification_sentをtrueにする。
package notify

import (
	"fmt"

	"github.com/hitoshi/resultwatch/internal/model"
)

// Message は変更履歴1件から組み立てた通知内容。
type Message struct {
	ChangeID     int64
	ChangeType   model.ChangeType
	Subject      string
	Title        string
	Body         string
	Date         string
	PreviousDate string
}

// Text はWebhookなど1行で送るチャネル向けの本文を返す。
func (m Message) Text() string {
	return m.Title + " - " + m.Body
}

// FormatMessage は変更履歴の種別に応じた通知内容を組み立てる。
func FormatMessage(entry model.ChangeLogEntry) Message {
	msg := Message{
		ChangeID:     entry.ID,
		ChangeType:   entry.ChangeType,
		Subject:      entry.Subject,
		Title:        entry.Subject,
		Date:         entry.Date.String(),
		PreviousDate: entry.PreviousDate.String(),
	}

	switch entry.ChangeType {
	case model.ChangeAdded:
		msg.Body = fmt.Sprintf("Result has been declared! (%s)", msg.Date)
	case model.ChangeUpdated:
		msg.Body = fmt.Sprintf("Result has been updated! (%s -> %s)", msg.PreviousDate, msg.Date)
	case model.ChangeRemoved:
		msg.Body = fmt.Sprintf("Result has been removed! (was %s)", msg.PreviousDate)
	default:
		msg.Body = "Result has been updated!"
	}

	return msg
}
