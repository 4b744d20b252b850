package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubActivity struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func (s *stubActivity) LastActivity(_ context.Context, ownerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.seen[ownerID]
	return at, ok
}

func TestInQuietHours(t *testing.T) {
	cases := []struct {
		hour  int
		quiet [2]int
		want  bool
	}{
		{23, [2]int{22, 8}, true},
		{3, [2]int{22, 8}, true},
		{8, [2]int{22, 8}, false},
		{12, [2]int{22, 8}, false},
		{13, [2]int{12, 14}, true},
		{14, [2]int{12, 14}, false},
		{5, [2]int{0, 0}, false},
	}
	for _, tc := range cases {
		if got := inQuietHours(tc.hour, tc.quiet); got != tc.want {
			t.Errorf("inQuietHours(%d, %v) = %v, want %v", tc.hour, tc.quiet, got, tc.want)
		}
	}
}

func TestIdleInitiator_ShouldInitiate(t *testing.T) {
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	activity := &stubActivity{seen: map[string]time.Time{
		"alice": noon.Add(-7 * time.Hour),
		"bob":   noon.Add(-time.Hour),
	}}
	initiator := NewIdleInitiator(activity, IdleConfig{
		IdleThreshold: 6 * time.Hour,
		QuietHours:    [2]int{22, 8},
		Location:      time.UTC,
	})
	ctx := context.Background()

	msg, ok := initiator.ShouldInitiate(ctx, "alice", noon)
	if !ok || msg == "" {
		t.Fatal("expected idle owner to be contacted")
	}
	if _, ok := initiator.ShouldInitiate(ctx, "alice", noon.Add(time.Hour)); ok {
		t.Fatal("expected at most one message per idle threshold")
	}
	if _, ok := initiator.ShouldInitiate(ctx, "alice", noon.Add(11*time.Hour)); ok {
		t.Fatal("expected quiet hours to suppress the message")
	}
	if _, ok := initiator.ShouldInitiate(ctx, "alice", noon.Add(21*time.Hour)); !ok {
		t.Fatal("expected a new message after quiet hours")
	}

	if _, ok := initiator.ShouldInitiate(ctx, "bob", noon); ok {
		t.Fatal("recently active owner must not be contacted")
	}
	if _, ok := initiator.ShouldInitiate(ctx, "carol", noon); ok {
		t.Fatal("owner without activity must not be contacted")
	}
}

func TestDescribeIdle(t *testing.T) {
	cases := map[time.Duration]string{
		time.Hour + time.Minute: "an hour",
		7 * time.Hour:           "7 hours",
		50 * time.Hour:          "2 days",
	}
	for idle, want := range cases {
		if got := describeIdle(idle); got != want {
			t.Errorf("describeIdle(%s) = %q, want %q", idle, got, want)
		}
	}
}
