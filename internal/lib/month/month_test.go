package month

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdd_EndOfMonth(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{
			name:   "monthly from january 31 rolls into march",
			start:  time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name:   "monthly from january 31 in a non leap year",
			start:  time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2023, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "semiannual from august 31",
			start:  time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC),
			months: 6,
			want:   time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "annual from leap day",
			start:  time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			months: 12,
			want:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "monthly mid month keeps the day",
			start:  time.Date(2024, 4, 15, 8, 30, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2024, 5, 15, 8, 30, 0, 0, time.UTC),
		},
		{
			name:   "semiannual across year boundary",
			start:  time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
			months: 6,
			want:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Add(tt.start, tt.months)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.start))
		})
	}
}

func TestAdd_NotFixedDayCount(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.NotEqual(t, start.Add(30*24*time.Hour), Add(start, 1))
	assert.False(t, Add(start, 1).Before(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestDaysLeft(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		until time.Time
		want  int
	}{
		{name: "exactly ten days", until: now.Add(10 * 24 * time.Hour), want: 10},
		{name: "partial day rounds up", until: now.Add(36 * time.Hour), want: 2},
		{name: "one minute left", until: now.Add(time.Minute), want: 1},
		{name: "same instant", until: now, want: 0},
		{name: "in the past", until: now.Add(-time.Hour), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysLeft(now, tt.until))
		})
	}
}
