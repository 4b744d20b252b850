package reminder

import (
	"strings"
	"testing"
	"time"
)

func TestParseConditionVariants(t *testing.T) {
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		typ     Type
		raw     string
		want    TriggerCondition
		wantErr string
	}{
		{
			name: "time",
			typ:  TypeTime,
			raw:  `{"at":"2026-01-05T08:00:00Z"}`,
			want: TimeCondition{At: at},
		},
		{
			name: "behavior",
			typ:  TypeBehavior,
			raw:  `{"inactive_hours":1.5}`,
			want: BehaviorCondition{InactiveHours: 1.5},
		},
		{
			name: "weather",
			typ:  TypeWeather,
			raw:  `{"condition":"snow","location":"Oslo"}`,
			want: WeatherCondition{Condition: "snow", Location: "Oslo"},
		},
		{
			name: "habit",
			typ:  TypeHabit,
			raw:  `{"pattern":"read","time_of_day":"22:15"}`,
			want: HabitCondition{Pattern: "read", TimeOfDay: "22:15"},
		},
		{name: "empty payload", typ: TypeTime, raw: ``, wantErr: "empty"},
		{name: "bad json", typ: TypeTime, raw: `{`, wantErr: "decode time condition"},
		{name: "missing target", typ: TypeTime, raw: `{}`, wantErr: "target time"},
		{name: "negative hours", typ: TypeBehavior, raw: `{"inactive_hours":-1}`, wantErr: "positive"},
		{name: "bad clock", typ: TypeHabit, raw: `{"pattern":"x","time_of_day":"25:00"}`, wantErr: "HH:MM"},
		{name: "unknown type", typ: "tide", raw: `{}`, wantErr: "unknown reminder type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCondition(tt.typ, []byte(tt.raw))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if wantTime, ok := tt.want.(TimeCondition); ok {
				gotTime, ok := got.(TimeCondition)
				if !ok || !gotTime.At.Equal(wantTime.At) || gotTime.SnoozeUntil != nil {
					t.Fatalf("got %#v, want %#v", got, tt.want)
				}
			} else if got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
			if got.Kind() != tt.typ {
				t.Fatalf("kind %s does not match type %s", got.Kind(), tt.typ)
			}
		})
	}
}

func TestDecodeIntoKeepsRawPayloadOnFailure(t *testing.T) {
	r := Reminder{ID: 3, Type: TypeWeather}
	DecodeInto(&r, []byte(`{"condition":""}`))
	if r.ConditionErr == nil || r.Condition != nil {
		t.Fatalf("expected decode failure, got %+v", r)
	}
	if string(r.ConditionRaw) != `{"condition":""}` {
		t.Fatalf("raw payload not preserved: %s", r.ConditionRaw)
	}

	DecodeInto(&r, []byte(`{"condition":"rain","location":"Lisbon"}`))
	if r.ConditionErr != nil || r.ConditionRaw != nil {
		t.Fatalf("expected clean decode, got %+v", r)
	}
}

func TestMarshalConditionRejectsInvalid(t *testing.T) {
	if _, err := MarshalCondition(nil); err == nil {
		t.Fatal("expected error for nil condition")
	}
	if _, err := MarshalCondition(HabitCondition{Pattern: "x", TimeOfDay: "noon"}); err == nil {
		t.Fatal("expected error for invalid habit")
	}
	data, err := MarshalCondition(BehaviorCondition{InactiveHours: 4})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"inactive_hours":4}` {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestHabitSlotUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	day := time.Date(2026, 6, 1, 23, 0, 0, 0, loc)
	slot, err := HabitCondition{Pattern: "x", TimeOfDay: "07:45"}.SlotOn(day)
	if err != nil {
		t.Fatalf("slot: %v", err)
	}
	want := time.Date(2026, 6, 1, 7, 45, 0, 0, loc)
	if !slot.Equal(want) {
		t.Fatalf("slot = %v, want %v", slot, want)
	}
}

func TestReminderHelpers(t *testing.T) {
	if (Reminder{Repeat: true}).EffectiveRepeat() {
		t.Fatal("repeat without interval must not be effective")
	}
	if !(Reminder{Repeat: true, RepeatInterval: time.Minute}).EffectiveRepeat() {
		t.Fatal("repeat with interval must be effective")
	}

	long := Reminder{Content: strings.Repeat("é", 50)}
	if got := long.DisplayTitle(); got != strings.Repeat("é", 40)+"..." {
		t.Fatalf("unexpected title %q", got)
	}

	snooze := time.Now()
	orig := Reminder{Condition: TimeCondition{At: snooze, SnoozeUntil: &snooze}, LastTriggered: &snooze}
	clone := orig.Clone()
	*clone.LastTriggered = snooze.Add(time.Hour)
	*clone.Condition.(TimeCondition).SnoozeUntil = snooze.Add(time.Hour)
	if !orig.LastTriggered.Equal(snooze) || !orig.Condition.(TimeCondition).SnoozeUntil.Equal(snooze) {
		t.Fatal("clone shares pointers with the original")
	}
}

func TestEscalationFor(t *testing.T) {
	cases := map[int]Tier{0: TierNotice, 1: TierNotice, 2: TierUrgent, 3: TierCritical, 10: TierCritical}
	for count, want := range cases {
		if got := EscalationFor(count).Tier; got != want {
			t.Errorf("EscalationFor(%d) = %s, want %s", count, got, want)
		}
	}
	if !strings.Contains(EscalationFor(4).Text, "4 times") {
		t.Errorf("expected count in critical text, got %q", EscalationFor(4).Text)
	}
}
