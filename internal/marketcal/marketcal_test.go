package marketcal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func kst(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, KST)
}

func TestIsSessionOpen(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"평일 장중", kst(2026, 8, 28, 10, 30), true},       // 금요일
		{"개장 직후", kst(2026, 8, 28, 9, 0), true},
		{"개장 직전", kst(2026, 8, 28, 8, 59), false},
		{"마감 직전", kst(2026, 8, 28, 15, 29), true},
		{"마감 시각", kst(2026, 8, 28, 15, 30), false},
		{"토요일", kst(2026, 8, 29, 10, 0), false},
		{"일요일", kst(2026, 8, 30, 10, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSessionOpen(tt.t))
		})
	}
}

func TestIsSessionOpenConvertsToKST(t *testing.T) {
	// UTC 01:00 = KST 10:00 금요일, 장중
	utc := time.Date(2026, 8, 28, 1, 0, 0, 0, time.UTC)
	assert.True(t, IsSessionOpen(utc))

	// UTC 15:00 금요일 = KST 토요일 00:00
	utc = time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)
	assert.False(t, IsSessionOpen(utc))
}

func TestDateHelpers(t *testing.T) {
	now := kst(2026, 8, 28, 10, 0)
	assert.Equal(t, "20260828", Today(now))
	assert.Equal(t, "20260628", DaysAgo(now, 61))
}
