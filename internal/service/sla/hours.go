package sla

import (
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// Deadline computes when a duration of work-minutes runs out, starting at
// start. Calendar policies are plain addition; business-hour policies
// accrue the budget only inside the configured UTC window on configured
// days.
func Deadline(def *domain.SlaDefinition, start time.Time, minutes int) time.Time {
	budget := time.Duration(minutes) * time.Minute
	if !def.BusinessHoursOnly {
		return start.Add(budget)
	}

	startMin, okStart := parseHHMM(def.BusinessHoursStart)
	endMin, okEnd := parseHHMM(def.BusinessHoursEnd)
	if !okStart || !okEnd || endMin <= startMin || len(def.BusinessDays) == 0 {
		// Misconfigured window; fall back to calendar time.
		return start.Add(budget)
	}

	days := make(map[time.Weekday]bool, len(def.BusinessDays))
	for _, d := range def.BusinessDays {
		days[time.Weekday(d%7)] = true
	}

	cur := start.UTC()
	// Bounded walk: a budget always fits inside a year of open windows.
	for i := 0; i < 366*2; i++ {
		dayStart := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, time.UTC)
		open := dayStart.Add(time.Duration(startMin) * time.Minute)
		close := dayStart.Add(time.Duration(endMin) * time.Minute)

		if !days[cur.Weekday()] || !cur.Before(close) {
			cur = nextDay(dayStart)
			continue
		}
		if cur.Before(open) {
			cur = open
		}

		available := close.Sub(cur)
		if budget <= available {
			return cur.Add(budget)
		}
		budget -= available
		cur = nextDay(dayStart)
	}
	return cur.Add(budget)
}

func nextDay(dayStart time.Time) time.Time {
	return dayStart.Add(24 * time.Hour)
}

// parseHHMM parses "09:00" into minutes past midnight.
func parseHHMM(s *string) (int, bool) {
	if s == nil || len(*s) != 5 || (*s)[2] != ':' {
		return 0, false
	}
	v := *s
	h := int(v[0]-'0')*10 + int(v[1]-'0')
	m := int(v[3]-'0')*10 + int(v[4]-'0')
	if v[0] < '0' || v[0] > '9' || v[1] < '0' || v[1] > '9' ||
		v[3] < '0' || v[3] > '9' || v[4] < '0' || v[4] > '9' ||
		h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
