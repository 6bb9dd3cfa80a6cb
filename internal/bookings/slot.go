package bookings

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout   = "2006-01-02"
	minutesInDay = 24 * 60
)

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "03:04 PM", "3:04PM", "03:04PM"}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidSlot, s)
	}
	return d, nil
}

// ParseClock parses a wall-clock time ("14:30", "2:30 PM") into minutes
// after midnight.
func ParseClock(s string) (int, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("%w: time %q", ErrInvalidSlot, s)
}

// FormatClock renders minutes after midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// EndTime returns the HH:MM end of a slot starting at start and lasting
// durationMinutes. Slots must finish by midnight; one ending exactly at
// midnight ends at "24:00", which Postgres time accepts.
func EndTime(start string, durationMinutes int) (string, error) {
	startMin, err := ParseClock(start)
	if err != nil {
		return "", err
	}
	if durationMinutes <= 0 {
		return "", fmt.Errorf("%w: duration %d", ErrInvalidSlot, durationMinutes)
	}
	end := startMin + durationMinutes
	if end > minutesInDay {
		return "", fmt.Errorf("%w: ends after midnight", ErrInvalidSlot)
	}
	return FormatClock(end), nil
}

// Start returns the absolute start of a slot in loc.
func Start(date string, clock string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	minutes, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), minutes/60, minutes%60, 0, 0, loc), nil
}
