// Package marketcal knows the Korean equity market session calendar.
package marketcal

import "time"

// KST is the Korean market time zone (UTC+9, no DST).
var KST = time.FixedZone("KST", 9*60*60)

// Session boundaries of the regular trading day (정규장 09:00~15:30).
const (
	openHour    = 9
	openMinute  = 0
	closeHour   = 15
	closeMinute = 30
)

// IsSessionOpen reports whether the regular session is open at t.
// 주말만 제외하며 공휴일은 판단하지 않는다 (휴장일 호출은 API가 빈 응답으로
// 처리하므로 별도 달력 없이 동작한다).
func IsSessionOpen(t time.Time) bool {
	kst := t.In(KST)

	switch kst.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minutes := kst.Hour()*60 + kst.Minute()
	open := openHour*60 + openMinute
	close := closeHour*60 + closeMinute

	return minutes >= open && minutes < close
}

// Today returns the current date in KST as YYYYMMDD.
func Today(now time.Time) string {
	return now.In(KST).Format("20060102")
}

// DaysAgo returns the KST date n days before now as YYYYMMDD.
func DaysAgo(now time.Time, n int) string {
	return now.In(KST).AddDate(0, 0, -n).Format("20060102")
}
