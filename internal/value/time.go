package value

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/stackwire/internal/protocol"
)

// Precision selects how much of a Time is significant.
type Precision uint8

const (
	PrecisionDate Precision = iota
	PrecisionDateTime
	PrecisionHires
)

// Time is a calendar timestamp without zone. Fields finer than Precision must be zero.
type Time struct {
	Year        int
	Month       int
	Day         int
	Hour        int
	Minute      int
	Second      int
	Microsecond int
	Precision   Precision
}

// PrecisionOf maps a time type tag to its precision.
func PrecisionOf(t Type) (Precision, bool) {
	switch t {
	case TypeDate:
		return PrecisionDate, true
	case TypeDateTime:
		return PrecisionDateTime, true
	case TypeHiresTime:
		return PrecisionHires, true
	}
	return 0, false
}

// Type returns the tag matching the precision.
func (t Time) Type() Type {
	switch t.Precision {
	case PrecisionDateTime:
		return TypeDateTime
	case PrecisionHires:
		return TypeHiresTime
	}
	return TypeDate
}

// Validate checks every field against the calendar and the precision.
func (t Time) Validate() error {
	if t.Precision > PrecisionHires {
		return protocol.Errorf(protocol.CodeInvalidArgs, "time precision %d", t.Precision)
	}
	if t.Year < 0 || t.Year > 9999 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "year %d out of range", t.Year)
	}
	if t.Month < 1 || t.Month > 12 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "month %d out of range", t.Month)
	}
	if t.Day < 1 || t.Day > daysIn(t.Year, t.Month) {
		return protocol.Errorf(protocol.CodeInvalidArgs, "day %d out of range for %04d/%02d", t.Day, t.Year, t.Month)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "clock %02d:%02d:%02d out of range", t.Hour, t.Minute, t.Second)
	}
	if t.Microsecond < 0 || t.Microsecond > 999999 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "microsecond %d out of range", t.Microsecond)
	}
	if t.Precision < PrecisionDateTime && (t.Hour != 0 || t.Minute != 0 || t.Second != 0) {
		return protocol.Errorf(protocol.CodeInvalidArgs, "date carries a clock")
	}
	if t.Precision < PrecisionHires && t.Microsecond != 0 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "microseconds need hires precision")
	}
	return nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FromTime truncates tt to precision p.
func FromTime(tt time.Time, p Precision) Time {
	t := Time{Year: tt.Year(), Month: int(tt.Month()), Day: tt.Day(), Precision: p}
	if p >= PrecisionDateTime {
		t.Hour, t.Minute, t.Second = tt.Clock()
	}
	if p >= PrecisionHires {
		t.Microsecond = tt.Nanosecond() / 1000
	}
	return t
}

// Std converts t to a UTC time.Time.
func (t Time) Std() time.Time {
	return time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, t.Microsecond*1000, time.UTC)
}

// String renders the wire form: YYYY/MM/DD, then HH:MM:SS, then .uuuuuu.
func (t Time) String() string {
	s := fmt.Sprintf("%04d/%02d/%02d", t.Year, t.Month, t.Day)
	if t.Precision >= PrecisionDateTime {
		s += fmt.Sprintf(" %02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	if t.Precision >= PrecisionHires {
		s += fmt.Sprintf(".%06d", t.Microsecond)
	}
	return s
}

// ParseTime reads the wire form written by String at precision p.
func ParseTime(s string, p Precision) (Time, error) {
	t := Time{Precision: p}
	date, clock, hasClock := strings.Cut(s, " ")
	if hasClock != (p >= PrecisionDateTime) {
		return Time{}, protocol.Errorf(protocol.CodeTypeMismatch, "time %q does not match precision %d", s, p)
	}
	if err := parseParts(date, "/", &t.Year, &t.Month, &t.Day); err != nil {
		return Time{}, protocol.Wrap(protocol.CodeTypeMismatch, fmt.Sprintf("date %q", s), err)
	}
	if hasClock {
		whole, frac, hasFrac := strings.Cut(clock, ".")
		if hasFrac != (p == PrecisionHires) {
			return Time{}, protocol.Errorf(protocol.CodeTypeMismatch, "time %q does not match precision %d", s, p)
		}
		if err := parseParts(whole, ":", &t.Hour, &t.Minute, &t.Second); err != nil {
			return Time{}, protocol.Wrap(protocol.CodeTypeMismatch, fmt.Sprintf("clock %q", s), err)
		}
		if hasFrac {
			if len(frac) == 0 || len(frac) > 6 {
				return Time{}, protocol.Errorf(protocol.CodeTypeMismatch, "fraction %q", frac)
			}
			us, err := strconv.Atoi(frac + strings.Repeat("0", 6-len(frac)))
			if err != nil {
				return Time{}, protocol.Wrap(protocol.CodeTypeMismatch, fmt.Sprintf("fraction %q", frac), err)
			}
			t.Microsecond = us
		}
	}
	if err := t.Validate(); err != nil {
		return Time{}, err
	}
	return t, nil
}

func parseParts(s, sep string, dst ...*int) error {
	parts := strings.Split(s, sep)
	if len(parts) != len(dst) {
		return fmt.Errorf("want %d parts, got %d", len(dst), len(parts))
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return err
		}
		*dst[i] = n
	}
	return nil
}
