package main

import (
	"testing"
	"time"
)

func TestResolvePeriodExplicit(t *testing.T) {
	start, end, err := resolvePeriod("2025-06-01", "2025-06-30")
	if err != nil {
		t.Fatalf("resolvePeriod: %v", err)
	}
	if !start.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	// The end date is inclusive: the whole of June 30 is covered.
	if end.Before(time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)) {
		t.Errorf("end = %v, want end of June 30", end)
	}
	if !end.Before(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v, must not spill into July", end)
	}
}

func TestResolvePeriodDefaultsToPreviousMonth(t *testing.T) {
	start, end, err := resolvePeriod("", "")
	if err != nil {
		t.Fatalf("resolvePeriod: %v", err)
	}
	now := time.Now().UTC()
	firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(firstOfThis.AddDate(0, -1, 0)) {
		t.Errorf("start = %v, want first day of previous month", start)
	}
	if !end.Before(firstOfThis) {
		t.Errorf("end = %v, must precede the current month", end)
	}
	if start.Day() != 1 {
		t.Errorf("start day = %d, want 1", start.Day())
	}
}

func TestResolvePeriodPartialFlags(t *testing.T) {
	if _, _, err := resolvePeriod("2025-06-01", ""); err == nil {
		t.Error("expected error when only --from is given")
	}
	if _, _, err := resolvePeriod("", "2025-06-30"); err == nil {
		t.Error("expected error when only --to is given")
	}
}

func TestResolvePeriodBadDate(t *testing.T) {
	if _, _, err := resolvePeriod("June 1st", "2025-06-30"); err == nil {
		t.Error("expected parse error for non-ISO date")
	}
}
