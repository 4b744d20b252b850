package reminder

import "fmt"

// Tier is the urgency level of a notification.
type Tier int

const (
	TierNotice   Tier = 1
	TierUrgent   Tier = 2
	TierCritical Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierNotice:
		return "notice"
	case TierUrgent:
		return "urgent"
	case TierCritical:
		return "critical"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Escalation is the tier and display text derived from a trigger count.
type Escalation struct {
	Tier Tier
	Text string
}

// EscalationFor maps the trigger count after a notify to its escalation.
// Counts below one are treated as a first notice.
func EscalationFor(triggerCount int) Escalation {
	switch {
	case triggerCount <= 1:
		return Escalation{Tier: TierNotice, Text: "Friendly reminder"}
	case triggerCount == 2:
		return Escalation{Tier: TierUrgent, Text: "Reminder: still waiting for your confirmation"}
	default:
		return Escalation{
			Tier: TierCritical,
			Text: fmt.Sprintf("Urgent: this reminder has been sent %d times without confirmation", triggerCount),
		}
	}
}
