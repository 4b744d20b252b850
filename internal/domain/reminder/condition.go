package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TriggerCondition is the type-specific payload describing when a reminder
// becomes due. Exactly one variant exists per reminder Type.
type TriggerCondition interface {
	Kind() Type
	Validate() error
}

// TimeCondition fires at a target instant. SnoozeUntil, when set, suppresses
// triggering until it has passed even if At already has.
type TimeCondition struct {
	At          time.Time  `json:"at"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
}

func (TimeCondition) Kind() Type { return TypeTime }

func (c TimeCondition) Validate() error {
	if c.At.IsZero() {
		return errors.New("target time is required")
	}
	return nil
}

// BehaviorCondition fires after the owner has been inactive long enough.
type BehaviorCondition struct {
	InactiveHours float64 `json:"inactive_hours"`
}

func (BehaviorCondition) Kind() Type { return TypeBehavior }

func (c BehaviorCondition) Validate() error {
	if c.InactiveHours <= 0 {
		return fmt.Errorf("inactive_hours must be positive, got %v", c.InactiveHours)
	}
	return nil
}

// Threshold converts InactiveHours to a duration.
func (c BehaviorCondition) Threshold() time.Duration {
	return time.Duration(c.InactiveHours * float64(time.Hour))
}

// WeatherCondition fires when the named weather condition holds at Location.
type WeatherCondition struct {
	Condition string `json:"condition"`
	Location  string `json:"location"`
}

func (WeatherCondition) Kind() Type { return TypeWeather }

func (c WeatherCondition) Validate() error {
	if strings.TrimSpace(c.Condition) == "" {
		return errors.New("weather condition name is required")
	}
	if strings.TrimSpace(c.Location) == "" {
		return errors.New("weather location is required")
	}
	return nil
}

// HabitCondition fires once a day at TimeOfDay ("HH:MM", local time).
type HabitCondition struct {
	Pattern   string `json:"pattern"`
	TimeOfDay string `json:"time_of_day"`
}

func (HabitCondition) Kind() Type { return TypeHabit }

func (c HabitCondition) Validate() error {
	if strings.TrimSpace(c.Pattern) == "" {
		return errors.New("habit pattern is required")
	}
	if _, err := time.Parse("15:04", c.TimeOfDay); err != nil {
		return fmt.Errorf("time_of_day must be HH:MM: %w", err)
	}
	return nil
}

// SlotOn returns the habit instant on the calendar day of day, in day's
// location.
func (c HabitCondition) SlotOn(day time.Time) (time.Time, error) {
	clock, err := time.Parse("15:04", c.TimeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("time_of_day must be HH:MM: %w", err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
}

// ParseCondition decodes and validates a stored payload for the given type.
func ParseCondition(t Type, raw []byte) (TriggerCondition, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty trigger condition")
	}

	var (
		cond TriggerCondition
		err  error
	)
	switch t {
	case TypeTime:
		var c TimeCondition
		err = json.Unmarshal(raw, &c)
		cond = c
	case TypeBehavior:
		var c BehaviorCondition
		err = json.Unmarshal(raw, &c)
		cond = c
	case TypeWeather:
		var c WeatherCondition
		err = json.Unmarshal(raw, &c)
		cond = c
	case TypeHabit:
		var c HabitCondition
		err = json.Unmarshal(raw, &c)
		cond = c
	default:
		return nil, fmt.Errorf("unknown reminder type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s condition: %w", t, err)
	}
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	return cond, nil
}

// MarshalCondition validates and serializes a condition for storage.
func MarshalCondition(cond TriggerCondition) ([]byte, error) {
	if cond == nil {
		return nil, errors.New("trigger condition is required")
	}
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cond)
}

// DecodeInto parses raw into r.Condition. A decode failure is recorded on the
// reminder instead of being returned so one bad row never fails a batch.
func DecodeInto(r *Reminder, raw []byte) {
	cond, err := ParseCondition(r.Type, raw)
	if err != nil {
		r.Condition = nil
		r.ConditionErr = err
		r.ConditionRaw = append([]byte(nil), raw...)
		return
	}
	r.Condition = cond
	r.ConditionErr = nil
	r.ConditionRaw = nil
}
