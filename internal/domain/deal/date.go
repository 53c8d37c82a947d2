package deal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/loan-portal/pkg/errors"
)

const (
	crmDateLayout     = "02.01.2006"
	crmDateTimeLayout = "02.01.2006 15:04:05"
)

// ParseCRMDate parses the CRM display form "DD.MM.YYYY" or
// "DD.MM.YYYY HH:MM:SS" as a wall-clock instant in loc (time.Local when nil).
// A missing time part means midnight.  Any other shape, non-numeric token or
// out-of-range component is an ErrCodeDateMalformed error.
func ParseCRMDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	datePart, timePart, hasTime := strings.Cut(strings.TrimSpace(s), " ")
	if !hasTime {
		timePart = "00:00:00"
	}

	d, err := splitNumbers(datePart, ".", 3)
	if err != nil {
		return time.Time{}, malformedDate(s, err)
	}
	c, err := splitNumbers(strings.TrimSpace(timePart), ":", 3)
	if err != nil {
		return time.Time{}, malformedDate(s, err)
	}

	day, month, year := d[0], d[1], d[2]
	hour, minute, second := c[0], c[1], c[2]
	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, malformedDate(s, fmt.Errorf("component out of range"))
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	if t.Day() != day {
		return time.Time{}, malformedDate(s, fmt.Errorf("day %d does not exist in %02d.%04d", day, month, year))
	}
	return t, nil
}

// ParseCRMDateOr is ParseCRMDate that substitutes fallback on failure.  The
// parse error is still returned so the caller can log it.
func ParseCRMDateOr(s string, fallback time.Time, loc *time.Location) (time.Time, error) {
	t, err := ParseCRMDate(s, loc)
	if err != nil {
		return fallback, err
	}
	return t, nil
}

func splitNumbers(s, sep string, want int) ([]int, error) {
	parts := strings.Split(s, sep)
	if len(parts) != want {
		return nil, fmt.Errorf("expected %d segments separated by %q, got %d", want, sep, len(parts))
	}
	out := make([]int, want)
	for i, p := range parts {
		if p == "" || strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return nil, fmt.Errorf("segment %q is not numeric", p)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func malformedDate(s string, cause error) error {
	return errors.Wrap(cause, errors.ErrCodeDateMalformed, "malformed CRM date").WithDetail(fmt.Sprintf("input=%q", s))
}

// FormatCRMDate renders t as "DD.MM.YYYY HH:MM:SS".
func FormatCRMDate(t time.Time) string {
	return t.Format(crmDateTimeLayout)
}

// FormatCRMDay renders t as "DD.MM.YYYY".
func FormatCRMDay(t time.Time) string {
	return t.Format(crmDateLayout)
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// calendarDays returns the whole number of calendar days from a to b, using
// the dates only.  DST transitions do not skew the count.
func calendarDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// TermDaysFromField reads a loan term such as "45 дней": every non-digit is
// dropped and the rest parsed.  Empty, zero or overflowing input yields def.
func TermDaysFromField(raw string, def int) int {
	var sb strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return def
	}
	n, err := strconv.Atoi(sb.String())
	if err != nil || n <= 0 {
		return def
	}
	return n
}
