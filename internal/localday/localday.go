// Package localday converts absolute sale instants into the operator's
// calendar. Sales are persisted with their true UTC instant; the fixed
// deployment offset is applied here and nowhere else.
package localday

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidOffset      = errors.New("invalid utc offset")
	ErrInvalidGranularity = errors.New("invalid groupBy")
)

type Normalizer struct {
	offset time.Duration
}

func New(offset time.Duration) Normalizer {
	return Normalizer{offset: offset}
}

// ParseOffset accepts "Z", "UTC", "+05:30", "-0600" or "-6".
func ParseOffset(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	switch strings.ToUpper(value) {
	case "", "Z", "UTC":
		return 0, nil
	}

	sign := time.Duration(1)
	switch value[0] {
	case '+':
		value = value[1:]
	case '-':
		sign = -1
		value = value[1:]
	}

	var hoursPart, minutesPart string
	switch {
	case strings.Contains(value, ":"):
		parts := strings.SplitN(value, ":", 2)
		hoursPart, minutesPart = parts[0], parts[1]
	case len(value) == 4:
		hoursPart, minutesPart = value[:2], value[2:]
	default:
		hoursPart, minutesPart = value, "0"
	}

	hours, err := strconv.Atoi(hoursPart)
	if err != nil || hours < 0 || hours > 14 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}
	minutes, err := strconv.Atoi(minutesPart)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}

	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}

func (n Normalizer) Offset() time.Duration {
	return n.offset
}

// OffsetLabel renders the offset as ±HH:MM, the form ParseOffset accepts.
func (n Normalizer) OffsetLabel() string {
	sign, d := "+", n.offset
	if d < 0 {
		sign, d = "-", -d
	}
	return fmt.Sprintf("%s%02d:%02d", sign, int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Shift moves an absolute instant into the local frame. The result is
// labelled UTC so that its date and clock fields read as local values.
func (n Normalizer) Shift(t time.Time) time.Time {
	return t.UTC().Add(n.offset)
}

func (n Normalizer) LocalDate(t time.Time) string {
	return n.Shift(t).Format(DateLayout)
}

func (n Normalizer) LocalTime(t time.Time) string {
	return n.Shift(t).Format(TimeLayout)
}

func (n Normalizer) Today(now time.Time) string {
	return n.LocalDate(now)
}

// StartOfLocalDay returns the absolute instant of local midnight for the
// local day containing t.
func (n Normalizer) StartOfLocalDay(t time.Time) time.Time {
	shifted := n.Shift(t)
	midnight := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(-n.offset)
}

// Calendar returns t in the frame used to derive day strings and buckets.
func (n Normalizer) Calendar(t time.Time, useLocal bool) time.Time {
	if useLocal {
		return n.Shift(t)
	}
	return t.UTC()
}

func (n Normalizer) Day(t time.Time, useLocal bool) string {
	return n.Calendar(t, useLocal).Format(DateLayout)
}

func (n Normalizer) Bucket(t time.Time, g Granularity, useLocal bool) string {
	return BucketKey(n.Calendar(t, useLocal), g)
}
