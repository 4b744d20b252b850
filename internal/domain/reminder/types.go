package reminder

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Type classifies a reminder and selects its trigger condition variant.
type Type string

const (
	TypeTime     Type = "time"
	TypeWeather  Type = "weather"
	TypeBehavior Type = "behavior"
	TypeHabit    Type = "habit"
)

// Types lists every supported reminder type.
var Types = []Type{TypeTime, TypeWeather, TypeBehavior, TypeHabit}

// IsValid reports whether t is a known reminder type.
func (t Type) IsValid() bool {
	switch t {
	case TypeTime, TypeWeather, TypeBehavior, TypeHabit:
		return true
	default:
		return false
	}
}

const (
	HighestPriority = 1
	LowestPriority  = 5
)

// Reminder is one thing to potentially re-surface to a user.
type Reminder struct {
	ID      int64
	OwnerID string
	Type    Type

	// Condition is nil when the stored payload could not be decoded; in that
	// case ConditionErr explains why and ConditionRaw keeps the payload.
	Condition    TriggerCondition
	ConditionErr error
	ConditionRaw []byte

	Content  string
	Title    string
	Priority int

	Repeat         bool
	RepeatInterval time.Duration

	Enabled       bool
	LastTriggered *time.Time
	TriggerCount  int

	// TaskID optionally points at the task that produced the reminder.
	TaskID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveRepeat reports whether the reminder behaves as repeating. A repeat
// flag without a positive interval is treated as non-repeat.
func (r Reminder) EffectiveRepeat() bool {
	return r.Repeat && r.RepeatInterval > 0
}

// MisconfiguredRepeat reports a repeat flag that EffectiveRepeat ignores.
func (r Reminder) MisconfiguredRepeat() bool {
	return r.Repeat && r.RepeatInterval <= 0
}

// DisplayTitle returns the title, falling back to a shortened content line.
func (r Reminder) DisplayTitle() string {
	if title := strings.TrimSpace(r.Title); title != "" {
		return title
	}
	content := strings.TrimSpace(r.Content)
	if utf8.RuneCountInString(content) <= 40 {
		return content
	}
	runes := []rune(content)
	return string(runes[:40]) + "..."
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r Reminder) Clone() Reminder {
	out := r
	if r.LastTriggered != nil {
		ts := *r.LastTriggered
		out.LastTriggered = &ts
	}
	if r.ConditionRaw != nil {
		out.ConditionRaw = append([]byte(nil), r.ConditionRaw...)
	}
	if tc, ok := r.Condition.(TimeCondition); ok && tc.SnoozeUntil != nil {
		snooze := *tc.SnoozeUntil
		tc.SnoozeUntil = &snooze
		out.Condition = tc
	}
	return out
}

// ConfirmationRecord is append-only evidence that a notification was seen.
// ReminderID is a weak reference: the reminder may be deleted later.
type ConfirmationRecord struct {
	ID          string
	ReminderID  int64
	OwnerID     string
	Content     string
	TriggeredAt time.Time
	ConfirmedAt time.Time
}

// HistoryEntry is a confirmation record joined with the reminder it refers
// to. Title and Type are blank when the reminder no longer exists.
type HistoryEntry struct {
	ConfirmationRecord
	Title string
	Type  Type
}

// ListQuery selects reminders for one owner.
type ListQuery struct {
	OwnerID     string
	EnabledOnly bool
	Type        Type // empty means all types
}

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Title          *string
	Content        *string
	Priority       *int
	Condition      TriggerCondition
	Repeat         *bool
	RepeatInterval *time.Duration
	Enabled        *bool
	LastTriggered  *time.Time
	TriggerCount   *int
	TaskID         *string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Priority == nil && p.Condition == nil &&
		p.Repeat == nil && p.RepeatInterval == nil && p.Enabled == nil &&
		p.LastTriggered == nil && p.TriggerCount == nil && p.TaskID == nil
}

// EncodedPatch is a Patch whose condition has been serialized for storage.
type EncodedPatch struct {
	Patch
	Type          *Type
	ConditionJSON []byte
}

// Notice is the payload of a "reminder" event.
type Notice struct {
	ReminderID   int64     `json:"id"`
	Type         Type      `json:"type"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Priority     int       `json:"priority"`
	Tier         Tier      `json:"tier"`
	Escalation   string    `json:"escalation"`
	TriggerCount int       `json:"trigger_count"`
	NotifiedAt   time.Time `json:"notified_at"`
}

// ChangeNotice is the payload of the reminder change events.
type ChangeNotice struct {
	ReminderID   int64  `json:"id"`
	OwnerID      string `json:"owner_id"`
	Action       string `json:"action"`
	Title        string `json:"title,omitempty"`
	Enabled      bool   `json:"enabled"`
	TriggerCount int    `json:"trigger_count"`
}
