package bootstrap

import (
	"fmt"
	"testing"

	"herald/internal/shared/logging"
)

func TestRunStagesFailsOnRequired(t *testing.T) {
	degraded := NewDegradedComponents()

	stages := []Stage{
		{Name: "ok", Required: true, Init: func() error { return nil }},
		{Name: "fail", Required: true, Init: func() error { return fmt.Errorf("boom") }},
		{Name: "unreached", Required: true, Init: func() error {
			t.Fatal("should not be reached")
			return nil
		}},
	}

	if err := RunStages(stages, degraded, logging.Nop()); err == nil {
		t.Fatal("expected error from required stage")
	}
	if !degraded.IsEmpty() {
		t.Fatal("no optional stages should have been recorded")
	}
}

func TestRunStagesRecordsDegradedForOptional(t *testing.T) {
	degraded := NewDegradedComponents()
	var reached bool

	stages := []Stage{
		{Name: "opt-a", Required: false, Init: func() error { return fmt.Errorf("fail-a") }},
		{Name: "opt-b", Required: false, Init: func() error { return fmt.Errorf("fail-b") }},
		{Name: "required", Required: true, Init: func() error { reached = true; return nil }},
	}

	if err := RunStages(stages, degraded, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reached {
		t.Fatal("required stage was not reached")
	}
	m := degraded.Map()
	if len(m) != 2 {
		t.Fatalf("expected 2 degraded, got %d", len(m))
	}
	if m["opt-a"] != "fail-a" {
		t.Fatalf("unexpected reason for opt-a: %q", m["opt-a"])
	}
}
