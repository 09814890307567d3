package service

import (
	"fmt"
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// Countdown is the derived timer view for a ticket. It is recomputed on every
// call and never persisted; UIs poll it once per second.
type Countdown struct {
	Display string `json:"display"`
	Overdue bool   `json:"overdue"`
}

// ComputeRemaining derives the remaining work time from stored timestamps.
// Only an in-progress ticket counts down; every other status shows the planned
// estimate statically.
func ComputeRemaining(ticket *domain.Ticket, now time.Time) Countdown {
	estimated := 0
	if ticket.EstimatedTime != nil {
		estimated = *ticket.EstimatedTime
	}

	if ticket.Status != domain.StatusInProgress || ticket.StartedAt == nil {
		return Countdown{Display: formatClock(time.Duration(estimated) * time.Minute)}
	}

	end := ticket.StartedAt.Add(time.Duration(estimated) * time.Minute)
	if !now.Before(end) {
		return Countdown{Display: "00m 00s", Overdue: true}
	}
	return Countdown{Display: formatClock(end.Sub(now))}
}

func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02dm %02ds", total/60, total%60)
}
