package reminder

import (
	"fmt"
	"time"
)

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". Seconds are ignored.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("invalid time of day %q", s)
}

func hasDay(days []int, wd time.Weekday) bool {
	for _, d := range days {
		if d == int(wd) {
			return true
		}
	}
	return false
}

// IsDue reports whether a reminder that has never been scheduled should fire
// at now: today must be one of days and now must fall within
// [reminderTime, reminderTime+window] in now's location.
func IsDue(reminderTime string, days []int, now time.Time, window time.Duration) bool {
	h, m, err := ParseTimeOfDay(reminderTime)
	if err != nil || !hasDay(days, now.Weekday()) {
		return false
	}
	y, mo, d := now.Date()
	candidate := time.Date(y, mo, d, h, m, 0, 0, now.Location())
	return !now.Before(candidate) && !now.After(candidate.Add(window))
}

// NextTrigger returns the first reminderTime strictly after from that falls
// on one of days, looking at most seven days ahead. It returns nil when no
// day matches.
func NextTrigger(reminderTime string, days []int, from time.Time) (*time.Time, error) {
	h, m, err := ParseTimeOfDay(reminderTime)
	if err != nil {
		return nil, err
	}
	y, mo, d := from.Date()
	for i := 0; i <= 7; i++ {
		candidate := time.Date(y, mo, d+i, h, m, 0, 0, from.Location())
		if candidate.After(from) && hasDay(days, candidate.Weekday()) {
			return &candidate, nil
		}
	}
	return nil, nil
}

// dayKey identifies a calendar day for the daily guard.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
