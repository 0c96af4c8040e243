package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wricardo/courtside/domain"
	"github.com/wricardo/courtside/realtime"
)

const slotLayout = "Mon Jan 2 15:04"

func formatCourt(c domain.Court) string {
	state := "active"
	if !c.IsActive {
		state = "inactive"
	}
	return fmt.Sprintf("- #%d %s  $%s  %s", c.ID, c.Name, c.Price, state)
}

func formatBooking(b domain.Booking) string {
	return fmt.Sprintf("#%d court %d, %s to %s [%s]",
		b.ID, b.Court, b.StartTime.Format(slotLayout), b.EndTime.Format("15:04"), b.Status)
}

func formatMatch(m domain.Match) string {
	creator := "?"
	if m.Creator != nil {
		creator = m.Creator.Username
	}
	return fmt.Sprintf("#%d %s, %s, %s to %s, %d/%d players, by %s [%s]",
		m.ID, m.Court, m.Category,
		m.StartTime.Format(slotLayout), m.EndTime.Format("15:04"),
		len(m.Participants), m.PlayersNeeded+1, creator, m.Status)
}

// formatWeekly lists the free hours of each day, in date order.
func formatWeekly(courtID int, w domain.WeeklyAvailability) string {
	days := make([]string, 0, len(w))
	for day := range w {
		days = append(days, day)
	}
	sort.Strings(days)

	var b strings.Builder
	fmt.Fprintf(&b, "Court #%d free hours:\n", courtID)
	for _, day := range days {
		var free []int
		for hour, ok := range w[day] {
			if ok {
				free = append(free, hour)
			}
		}
		sort.Ints(free)

		label := day
		if t, err := time.Parse(time.DateOnly, day); err == nil {
			label = t.Format("Mon Jan 2")
		}
		if len(free) == 0 {
			fmt.Fprintf(&b, "%s: fully booked\n", label)
			continue
		}
		hours := make([]string, len(free))
		for i, h := range free {
			hours[i] = fmt.Sprintf("%02d", h)
		}
		fmt.Fprintf(&b, "%s: %s\n", label, strings.Join(hours, " "))
	}
	return b.String()
}

func formatStatus(s realtime.Status) string {
	line := fmt.Sprintf("%s: %s, attempt %d/%d, %d listeners",
		s.Channel, s.State, s.Attempt, s.MaxAttempts, s.Listeners)
	if s.LastCloseCode != 0 {
		line += fmt.Sprintf(", last close %d", s.LastCloseCode)
		if reason := realtime.CloseReason(s.LastCloseCode); reason != "" {
			line += " (" + reason + ")"
		}
	}
	if s.Exhausted {
		line += ", gave up"
	}
	return line
}
