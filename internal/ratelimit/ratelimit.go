// Package ratelimit enforces per-account send ceilings and spacing. Counts are
// always derived from the send history handed in by the caller; nothing is
// cached between evaluations.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// Limits are the per-account ceilings. A zero ceiling disables that check.
type Limits struct {
	ConnectionRequestsPerHour int           `mapstructure:"connection_requests_per_hour"`
	ConnectionRequestsPerDay  int           `mapstructure:"connection_requests_per_day"`
	ConnectionRequestsPerWeek int           `mapstructure:"connection_requests_per_week"`
	MessagesPerHour           int           `mapstructure:"messages_per_hour"`
	MessagesPerDay            int           `mapstructure:"messages_per_day"`
	MinSpacing                time.Duration `mapstructure:"min_spacing"`
}

// DefaultLimits are the anti-detection hard limits.
func DefaultLimits() Limits {
	return Limits{
		ConnectionRequestsPerHour: 5,
		ConnectionRequestsPerDay:  25,
		ConnectionRequestsPerWeek: 100,
		MessagesPerHour:           10,
		MessagesPerDay:            50,
		MinSpacing:                20 * time.Minute,
	}
}

// WithDailyOverride lowers the daily ceiling of class to override. An override
// never raises a ceiling above the hard limit.
func (l Limits) WithDailyOverride(class string, override *int) Limits {
	if override == nil || *override <= 0 {
		return l
	}
	switch class {
	case model.ClassConnectionRequest:
		if l.ConnectionRequestsPerDay == 0 || *override < l.ConnectionRequestsPerDay {
			l.ConnectionRequestsPerDay = *override
		}
	default:
		if l.MessagesPerDay == 0 || *override < l.MessagesPerDay {
			l.MessagesPerDay = *override
		}
	}
	return l
}

func (l Limits) hourly(class string) int {
	if class == model.ClassConnectionRequest {
		return l.ConnectionRequestsPerHour
	}
	return l.MessagesPerHour
}

func (l Limits) daily(class string) int {
	if class == model.ClassConnectionRequest {
		return l.ConnectionRequestsPerDay
	}
	return l.MessagesPerDay
}

// Reason identifies which check blocked a send.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonSpacing   Reason = "spacing"
	ReasonHourlyCap Reason = "hourly_cap"
	ReasonDailyCap  Reason = "daily_cap"
	ReasonWeeklyCap Reason = "weekly_cap"
)

// Tally is the per-class usage of one account inside each rolling window.
type Tally struct {
	LastSend *time.Time
	Hour     int
	Day      int
	Week     int
}

// Decision is the result of Check.
type Decision struct {
	Allowed   bool
	Reason    Reason
	Detail    string
	AccountID int64
	Tally     Tally
}

// Count builds the tally for class from history as seen at now.
func Count(class string, history []model.SendRecord, now time.Time) Tally {
	var t Tally
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	for i := range history {
		// A claim stamped by a clock slightly ahead still counts, as now.
		sentAt := history[i].SentAt
		if sentAt.After(now) {
			sentAt = now
		}
		if t.LastSend == nil || sentAt.After(*t.LastSend) {
			s := sentAt
			t.LastSend = &s
		}
		if model.ClassOf(history[i].MessageType) != class {
			continue
		}
		if sentAt.After(hourAgo) {
			t.Hour++
		}
		if sentAt.After(dayAgo) {
			t.Day++
		}
		if sentAt.After(weekAgo) {
			t.Week++
		}
	}
	return t
}

func classLabel(class string) string {
	if class == model.ClassConnectionRequest {
		return "CR"
	}
	return "message"
}

// Check decides whether account may send one more message of class at now.
// Spacing is checked first, then the hourly, daily and weekly ceilings.
func Check(accountID int64, class string, history []model.SendRecord, now time.Time, limits Limits) Decision {
	t := Count(class, history, now)
	d := Decision{AccountID: accountID, Tally: t}

	if limits.MinSpacing > 0 && t.LastSend != nil {
		if since := now.Sub(*t.LastSend); since < limits.MinSpacing {
			d.Reason = ReasonSpacing
			d.Detail = fmt.Sprintf("last send %s ago, spacing %s", since.Truncate(time.Second), limits.MinSpacing)
			return d
		}
	}
	if ceiling := limits.hourly(class); ceiling > 0 && t.Hour >= ceiling {
		d.Reason = ReasonHourlyCap
		d.Detail = fmt.Sprintf("%s hourly cap (%d/%d)", classLabel(class), t.Hour, ceiling)
		return d
	}
	if ceiling := limits.daily(class); ceiling > 0 && t.Day >= ceiling {
		d.Reason = ReasonDailyCap
		d.Detail = fmt.Sprintf("%s daily cap (%d/%d)", classLabel(class), t.Day, ceiling)
		return d
	}
	if class == model.ClassConnectionRequest && limits.ConnectionRequestsPerWeek > 0 && t.Week >= limits.ConnectionRequestsPerWeek {
		d.Reason = ReasonWeeklyCap
		d.Detail = fmt.Sprintf("CR weekly cap (%d/%d)", t.Week, limits.ConnectionRequestsPerWeek)
		return d
	}
	d.Allowed = true
	return d
}

// CrossedDailyCap reports whether a send that brings the class's daily count
// from sentToday to sentToday+1 is exactly the one that reaches the ceiling.
func CrossedDailyCap(sentToday int, class string, limits Limits) bool {
	ceiling := limits.daily(class)
	return ceiling > 0 && sentToday+1 == ceiling
}
