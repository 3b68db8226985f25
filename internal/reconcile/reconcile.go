// Package reconcile は前回のアクティブな状態と今回のスナップショットを比較し、
// 組ごとの変更（追加・更新・削除・変更なし）を分類する。
package reconcile

import (
	"sort"

	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/snapshot"
)

// Reconcile はpreviousとcurrentの差分を分類する。副作用を持たない純粋関数。
//
// 科目ごとに次の優先順位で分類する。
//  1. 前回のアクティブな日付がちょうど1つ、今回の日付がちょうど1つで、両者が異なる場合は更新。
//  2. 更新に使われた組（旧・新の両方）は以降の分類から除外する。
//  3. 残りのうち今回のみにある組は追加。
//  4. 残りのうち前回のみにある組は削除。
//  5. 両方にある組は変更なし。
//
// 日付が複数アクティブな科目はどちらの組がどれに対応するか決められないため、更新にはならない。
// 返り値の各スライスは互いに素で、科目名、日付の順に並ぶ。
func Reconcile(previous model.ActiveView, current snapshot.Snapshot) model.Changeset {
	var cs model.Changeset
	currentBySubject := current.BySubject()

	consumed := make(map[model.ResultKey]struct{})
	for subject, prevDates := range previous {
		curDates, ok := currentBySubject[subject]
		if !ok || len(prevDates) != 1 || len(curDates) != 1 {
			continue
		}
		var from model.Date
		for d := range prevDates {
			from = d
		}
		to := curDates[0]
		if from == to {
			continue
		}
		change := model.DateChange{Subject: subject, From: from, To: to}
		cs.Updated = append(cs.Updated, change)
		consumed[change.OldKey()] = struct{}{}
		consumed[change.NewKey()] = struct{}{}
	}

	for k := range current {
		if _, ok := consumed[k]; ok {
			continue
		}
		if previous.Contains(k) {
			cs.Unchanged = append(cs.Unchanged, k)
		} else {
			cs.Added = append(cs.Added, k)
		}
	}

	for subject, dates := range previous {
		for d := range dates {
			k := model.ResultKey{Subject: subject, Date: d}
			if _, ok := consumed[k]; ok {
				continue
			}
			if !current.Contains(k) {
				cs.Removed = append(cs.Removed, k)
			}
		}
	}

	model.SortKeys(cs.Added)
	model.SortKeys(cs.Removed)
	model.SortKeys(cs.Unchanged)
	sort.Slice(cs.Updated, func(i, j int) bool {
		return cs.Updated[i].Subject < cs.Updated[j].Subject
	})
	return cs
}

// Apply はchangesetを適用した後のアクティブな状態を返す。
// 永続化後の状態をメモリ上で再現するためのもので、previousは変更しない。
func Apply(previous model.ActiveView, cs model.Changeset) model.ActiveView {
	next := make(model.ActiveView)
	for subject, dates := range previous {
		for d := range dates {
			next.Add(model.ResultKey{Subject: subject, Date: d})
		}
	}
	remove := func(k model.ResultKey) {
		dates, ok := next[k.Subject]
		if !ok {
			return
		}
		delete(dates, k.Date)
		if len(dates) == 0 {
			delete(next, k.Subject)
		}
	}
	for _, u := range cs.Updated {
		remove(u.OldKey())
		next.Add(u.NewKey())
	}
	for _, k := range cs.Removed {
		remove(k)
	}
	for _, k := range cs.Added {
		next.Add(k)
	}
	return next
}
