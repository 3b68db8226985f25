package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewDate_RejectsNonCalendarDates(t *testing.T) {
	tests := []struct {
		year    int
		month   time.Month
		day     int
		wantErr bool
	}{
		{2025, time.November, 8, false},
		{2024, time.February, 29, false},
		{2025, time.February, 29, true},
		{2025, time.April, 31, true},
		{2025, time.November, 0, true},
	}

	for _, tt := range tests {
		_, err := NewDate(tt.year, tt.month, tt.day)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewDate(%d, %d, %d) err = %v, wantErr %v", tt.year, tt.month, tt.day, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidDate) {
			t.Errorf("err = %v, want ErrInvalidDate", err)
		}
	}
}

func TestDate_Before(t *testing.T) {
	a := MustParseDate("2025-11-01")
	b := MustParseDate("2025-11-09")
	c := MustParseDate("2026-01-01")

	if !a.Before(b) || !b.Before(c) || !a.Before(c) {
		t.Error("Before should follow calendar order")
	}
	if b.Before(a) || a.Before(a) {
		t.Error("Before should be strict")
	}
}

func TestDate_Scan(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		want Date
	}{
		{"time.Time", time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC), MustParseDate("2025-11-08")},
		{"string", "2025-11-08", MustParseDate("2025-11-08")},
		{"bytes", []byte("2025-11-08"), MustParseDate("2025-11-08")},
		{"NULL", nil, Date{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Date
			if err := d.Scan(tt.src); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if d != tt.want {
				t.Errorf("Scan = %v, want %v", d, tt.want)
			}
		})
	}

	var d Date
	if err := d.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestNullDate_JSON(t *testing.T) {
	entry := ChangeLogEntry{
		Subject:      "B.Sc.",
		ChangeType:   ChangeRemoved,
		PreviousDate: SomeDate(MustParseDate("2025-11-01")),
	}

	b, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["result_date"] != nil {
		t.Errorf("result_date = %v, want null", got["result_date"])
	}
	if got["previous_date"] != "2025-11-01" {
		t.Errorf("previous_date = %v, want 2025-11-01", got["previous_date"])
	}
}

func TestActiveView(t *testing.T) {
	v := NewActiveView(
		ResultKey{Subject: "A", Date: MustParseDate("2025-11-01")},
		ResultKey{Subject: "A", Date: MustParseDate("2025-11-02")},
		ResultKey{Subject: "B", Date: MustParseDate("2025-11-01")},
		ResultKey{Subject: "B", Date: MustParseDate("2025-11-01")},
	)

	if v.Len() != 3 {
		t.Errorf("Len = %d, want 3", v.Len())
	}
	if !v.Contains(ResultKey{Subject: "A", Date: MustParseDate("2025-11-02")}) {
		t.Error("should contain A/2025-11-02")
	}
	if v.Contains(ResultKey{Subject: "C", Date: MustParseDate("2025-11-01")}) {
		t.Error("should not contain unknown subject")
	}
}

func TestIsAbort(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrNoRecords, true},
		{ErrEmptySnapshot, true},
		{ErrSyncInProgress, false},
		{errors.New("deadlock"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsAbort(tt.err); got != tt.want {
			t.Errorf("IsAbort(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
