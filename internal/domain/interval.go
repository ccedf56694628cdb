package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the on-disk form of interval bounds.
const DateLayout = "2006-01-02"

var ErrInvalidInterval = errors.New("interval begin is after end")

var zeroDate = time.Time{}.Format(DateLayout)

// Interval is a time range from Begin to End.
// Both bounds are assumed to be on the same timeline; no timezone conversion is done.
type Interval struct {
	Begin time.Time
	End   time.Time
}

func NewInterval(begin, end time.Time) (Interval, error) {
	if begin.After(end) {
		return Interval{}, fmt.Errorf("%w: %s > %s", ErrInvalidInterval,
			begin.Format(DateLayout), end.Format(DateLayout))
	}
	return Interval{Begin: begin, End: end}, nil
}

// ParseInterval builds an interval from two YYYY-MM-DD dates in loc.
func ParseInterval(begin, end string, loc *time.Location) (Interval, error) {
	b, err := time.ParseInLocation(DateLayout, begin, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("parse begin: %w", err)
	}
	e, err := time.ParseInLocation(DateLayout, end, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("parse end: %w", err)
	}
	return NewInterval(b, e)
}

// IsZero reports whether the interval has never been set.
func (i Interval) IsZero() bool {
	return i.Begin.IsZero() && i.End.IsZero()
}

func (i Interval) Equal(o Interval) bool {
	return i.Begin.Equal(o.Begin) && i.End.Equal(o.End)
}

// Contains reports whether t lies inside the closed range [Begin, End].
// Item tables are filtered inclusively, matching how listings are windowed.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Begin) && !t.After(i.End)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Begin.Format(DateLayout), i.End.Format(DateLayout))
}

type intervalJSON struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
}

func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(intervalJSON{
		Begin: i.Begin.Format(DateLayout),
		End:   i.End.Format(DateLayout),
	})
}

// UnmarshalJSON reads dates in time.Local; use ParseInterval for another location.
func (i *Interval) UnmarshalJSON(data []byte) error {
	var raw intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStoredInterval(raw.Begin, raw.End, time.Local)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// ParseStoredInterval maps the persisted zero date back to the zero instant so an
// untouched coverage stays IsZero after a round trip.
func ParseStoredInterval(begin, end string, loc *time.Location) (Interval, error) {
	parse := func(s string) (time.Time, error) {
		if s == "" || s == zeroDate {
			return time.Time{}, nil
		}
		return time.ParseInLocation(DateLayout, s, loc)
	}
	b, err := parse(begin)
	if err != nil {
		return Interval{}, fmt.Errorf("parse begin: %w", err)
	}
	e, err := parse(end)
	if err != nil {
		return Interval{}, fmt.Errorf("parse end: %w", err)
	}
	return NewInterval(b, e)
}

// DecodeInterval parses the persisted JSON form in loc.
func DecodeInterval(data []byte, loc *time.Location) (Interval, error) {
	var raw intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Interval{}, fmt.Errorf("decode interval: %w", err)
	}
	return ParseStoredInterval(raw.Begin, raw.End, loc)
}
