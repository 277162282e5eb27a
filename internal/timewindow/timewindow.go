// Package timewindow computes join eligibility, remaining time and the pre-appointment
// protection window from an appointment's scheduled date, time and duration.
//
// Every function is pure: the caller supplies "now" and re-evaluates on its own tick
// (at least once per second while a countdown is shown, once per minute otherwise).
package timewindow

import (
	"fmt"
	"strings"
	"time"
)

// Policy constants. They are enforced server-side and not configurable per call.
const (
	JoinLead           = 15 * time.Minute
	ProtectedWindow    = 60 * time.Minute
	RescheduleDeadline = time.Hour
	DefaultDuration    = 15

	DateLayout  = "2006-01-02"
	ClockLayout = "03:04 PM"
)

var clockLayouts = []string{"3:04 PM", "15:04"}

// Window is an appointment's absolute start instant and its length.
type Window struct {
	Start    time.Time
	Duration time.Duration
}

// JoinStatus is the tri-state answer to "can the participant join now".
type JoinStatus struct {
	CanJoin   bool          `json:"canJoin"`
	Message   string        `json:"message"`
	Countdown string        `json:"countdown,omitempty"`
	Remaining time.Duration `json:"-"`
}

// ParseStart combines a YYYY-MM-DD date and a 12-hour "h:mm AM" time (24-hour "HH:MM" is
// also accepted) into a single instant in loc.
func ParseStart(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	date = strings.TrimSpace(date)
	normalized := normalizeClock(clock)

	if _, err := time.ParseInLocation(DateLayout, date, loc); err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}

	for _, layout := range clockLayouts {
		t, err := time.ParseInLocation(DateLayout+" "+layout, date+" "+normalized, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: expected hh:mm AM/PM", clock)
}

// normalizeClock upper-cases the meridiem and makes sure it is separated by one space.
func normalizeClock(clock string) string {
	c := strings.ToUpper(strings.Join(strings.Fields(clock), ""))
	for _, suffix := range []string{"AM", "PM"} {
		if strings.HasSuffix(c, suffix) {
			return strings.TrimSuffix(c, suffix) + " " + suffix
		}
	}
	return c
}

// FormatClock renders t in the canonical 12-hour layout used for stored appointments.
func FormatClock(t time.Time) string {
	return t.Format(ClockLayout)
}

// FormatDate renders t in the stored date layout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// New builds a window from an absolute start. Non-positive durations fall back to the default.
func New(start time.Time, durationMinutes int) Window {
	if durationMinutes <= 0 {
		durationMinutes = DefaultDuration
	}
	return Window{Start: start, Duration: time.Duration(durationMinutes) * time.Minute}
}

// Parse builds a window from stored date/time fields.
func Parse(date, clock string, durationMinutes int, loc *time.Location) (Window, error) {
	start, err := ParseStart(date, clock, loc)
	if err != nil {
		return Window{}, err
	}
	return New(start, durationMinutes), nil
}

// End is the instant the consultation window closes.
func (w Window) End() time.Time {
	return w.Start.Add(w.Duration)
}

// OpensAt is the earliest instant a participant may join.
func (w Window) OpensAt() time.Time {
	return w.Start.Add(-JoinLead)
}

// TimeUntil is the signed duration from now to the scheduled start.
func (w Window) TimeUntil(now time.Time) time.Duration {
	return w.Start.Sub(now)
}

// Humanize renders the remaining time to start for display.
func (w Window) Humanize(now time.Time) string {
	return Humanize(w.TimeUntil(now))
}

// JoinStatus reports whether joining is allowed at now. The join window is inclusive on
// both ends: [start-15m, start+duration].
func (w Window) JoinStatus(now time.Time) JoinStatus {
	remaining := w.TimeUntil(now)

	switch {
	case now.Before(w.OpensAt()):
		return JoinStatus{CanJoin: false, Message: Humanize(remaining), Remaining: remaining}
	case now.After(w.End()):
		return JoinStatus{CanJoin: false, Message: "time passed", Remaining: remaining}
	case remaining > 0:
		countdown := Countdown(remaining)
		return JoinStatus{
			CanJoin:   true,
			Message:   "starts in " + countdown,
			Countdown: countdown,
			Remaining: remaining,
		}
	default:
		return JoinStatus{CanJoin: true, Message: "Join Now", Remaining: remaining}
	}
}

// IsWithinProtectedWindow is true from one hour before start onwards. Cancel and
// reschedule actions are refused inside it.
func (w Window) IsWithinProtectedWindow(now time.Time) bool {
	return !now.Before(w.Start.Add(-ProtectedWindow))
}

// Elapsed is true once the consultation window has fully closed.
func (w Window) Elapsed(now time.Time) bool {
	return now.After(w.End())
}

// Started is true from the scheduled start onwards.
func (w Window) Started(now time.Time) bool {
	return !now.Before(w.Start)
}

// Humanize formats a signed duration: >1 day "in N days", 1 day "tomorrow",
// under a day "in Hh Mm" (or "in Mm"), otherwise "time passed".
func Humanize(d time.Duration) string {
	if d <= 0 {
		return "time passed"
	}
	days := int(d / (24 * time.Hour))
	switch {
	case days > 1:
		return fmt.Sprintf("in %d days", days)
	case days == 1:
		return "tomorrow"
	}

	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours > 0:
		return fmt.Sprintf("in %dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("in %dm", minutes)
	default:
		return "in under a minute"
	}
}

// Countdown formats a positive duration as mm:ss, truncating sub-second precision.
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// RescheduleExpiresAt is the fixed deadline for answering a proposal made at requestedAt.
func RescheduleExpiresAt(requestedAt time.Time) time.Time {
	return requestedAt.Add(RescheduleDeadline)
}

// RescheduleExpired reports whether a proposal made at requestedAt can no longer be accepted.
// Acceptance is allowed while now <= requestedAt + 1h.
func RescheduleExpired(requestedAt, now time.Time) bool {
	return now.After(RescheduleExpiresAt(requestedAt))
}
