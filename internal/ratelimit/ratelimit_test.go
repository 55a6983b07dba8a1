package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/outreach-engine/internal/model"
)

var now = time.Date(2025, 7, 9, 15, 0, 0, 0, time.UTC)

func sends(messageType string, ago ...time.Duration) []model.SendRecord {
	out := make([]model.SendRecord, 0, len(ago))
	for _, d := range ago {
		out = append(out, model.SendRecord{MessageType: messageType, SentAt: now.Add(-d)})
	}
	return out
}

func TestCheck_EmptyHistoryAllowed(t *testing.T) {
	d := Check(7, model.ClassConnectionRequest, nil, now, DefaultLimits())
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonNone, d.Reason)
	assert.Equal(t, int64(7), d.AccountID)
}

func TestCheck_Spacing(t *testing.T) {
	history := sends(model.MessageTypeMessage, 19*time.Minute)
	d := Check(1, model.ClassConnectionRequest, history, now, DefaultLimits())
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSpacing, d.Reason, "spacing applies across classes")

	history = sends(model.MessageTypeMessage, 20*time.Minute)
	assert.True(t, Check(1, model.ClassConnectionRequest, history, now, DefaultLimits()).Allowed)
}

func TestCheck_HourlyCap(t *testing.T) {
	limits := DefaultLimits()
	limits.MinSpacing = 0

	history := sends(model.MessageTypeConnectionRequest, 5*time.Minute, 15*time.Minute, 25*time.Minute, 35*time.Minute, 45*time.Minute)
	d := Check(1, model.ClassConnectionRequest, history, now, limits)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHourlyCap, d.Reason)
	assert.Equal(t, "CR hourly cap (5/5)", d.Detail)

	// Messages are counted separately from connection requests.
	assert.True(t, Check(1, model.ClassMessage, history, now, limits).Allowed)
}

func TestCheck_DailyCap(t *testing.T) {
	var ago []time.Duration
	for i := 0; i < 25; i++ {
		ago = append(ago, time.Duration(2+i%20)*time.Hour)
	}
	history := sends(model.MessageTypeConnectionRequest, ago...)

	d := Check(1, model.ClassConnectionRequest, history, now, DefaultLimits())
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyCap, d.Reason)
	assert.Equal(t, "CR daily cap (25/25)", d.Detail)
	assert.Equal(t, 25, d.Tally.Day)
}

func TestCheck_RollingDayWindow(t *testing.T) {
	var ago []time.Duration
	for i := 0; i < 25; i++ {
		ago = append(ago, 24*time.Hour+time.Duration(i)*time.Minute)
	}
	history := sends(model.MessageTypeConnectionRequest, ago...)
	d := Check(1, model.ClassConnectionRequest, history, now, DefaultLimits())
	assert.True(t, d.Allowed, "sends older than 24h fall out of the daily window")
	assert.Equal(t, 25, d.Tally.Week)
}

func TestCheck_WeeklyCap(t *testing.T) {
	var ago []time.Duration
	for i := 0; i < 100; i++ {
		ago = append(ago, 25*time.Hour+time.Duration(i)*time.Hour)
	}
	history := sends(model.MessageTypeConnectionRequest, ago...)
	d := Check(1, model.ClassConnectionRequest, history, now, DefaultLimits())
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWeeklyCap, d.Reason)

	// No weekly ceiling for messages.
	history = sends(model.MessageTypeMessage, ago...)
	assert.True(t, Check(1, model.ClassMessage, history, now, DefaultLimits()).Allowed)
}

func TestCheck_FollowUpAndInMailCountAsMessages(t *testing.T) {
	limits := DefaultLimits()
	limits.MinSpacing = 0
	limits.MessagesPerHour = 2

	history := append(sends(model.FollowUpType(2), 10*time.Minute), sends(model.MessageTypeOpenInMail, 20*time.Minute)...)
	d := Check(1, model.ClassMessage, history, now, limits)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHourlyCap, d.Reason)
	assert.Equal(t, "message hourly cap (2/2)", d.Detail)
}

func TestCheck_ZeroDisablesCeiling(t *testing.T) {
	limits := Limits{}
	history := sends(model.MessageTypeConnectionRequest, time.Minute, 2*time.Minute, 3*time.Minute)
	assert.True(t, Check(1, model.ClassConnectionRequest, history, now, limits).Allowed)
}

func TestCheck_FutureSendsCountAsNow(t *testing.T) {
	history := sends(model.MessageTypeMessage, -5*time.Second)
	d := Check(1, model.ClassMessage, history, now, DefaultLimits())
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSpacing, d.Reason)
	assert.Equal(t, 1, d.Tally.Hour)
	assert.Equal(t, now, *d.Tally.LastSend)
}

func TestWithDailyOverride(t *testing.T) {
	ten, hundred := 10, 100
	l := DefaultLimits().WithDailyOverride(model.ClassConnectionRequest, &ten)
	assert.Equal(t, 10, l.ConnectionRequestsPerDay)
	assert.Equal(t, 50, l.MessagesPerDay)

	l = DefaultLimits().WithDailyOverride(model.ClassMessage, &hundred)
	assert.Equal(t, 50, l.MessagesPerDay, "override never raises the hard limit")

	l = DefaultLimits().WithDailyOverride(model.ClassMessage, nil)
	assert.Equal(t, DefaultLimits(), l)
}

func TestCrossedDailyCap(t *testing.T) {
	limits := DefaultLimits()
	assert.True(t, CrossedDailyCap(24, model.ClassConnectionRequest, limits))
	assert.False(t, CrossedDailyCap(23, model.ClassConnectionRequest, limits))
	assert.False(t, CrossedDailyCap(25, model.ClassConnectionRequest, limits))
	assert.True(t, CrossedDailyCap(49, model.ClassMessage, limits))
	assert.False(t, CrossedDailyCap(0, model.ClassMessage, Limits{}))
}
