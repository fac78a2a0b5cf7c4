package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/session"
)

// formatMinutes renders a wait in minutes (e.g. 75 -> "1h 15m").
func formatMinutes(m float64) string {
	if m <= 0 {
		return "now"
	}
	n := int(math.Ceil(m))
	if n < 60 {
		return fmt.Sprintf("%d min", n)
	}
	return fmt.Sprintf("%dh %02dm", n/60, n%60)
}

// statusLabel is the display form of a patient status.
func statusLabel(s models.Status) string {
	switch s {
	case models.StatusWaiting:
		return "Waiting"
	case models.StatusConsulting:
		return "In consultation"
	case models.StatusCompleted:
		return "Completed"
	case models.StatusRemoved:
		return "Removed"
	case models.StatusLate:
		return "Doctor running late"
	case models.StatusNext:
		return "Next"
	case "":
		return "Unknown"
	}
	return string(s)
}

// formatPatientLine summarizes a patient session on one line.
func formatPatientLine(v session.PatientSnapshot) string {
	var b strings.Builder
	b.WriteString(statusLabel(v.Display))
	if v.Terminal {
		if v.TerminalReason != "" {
			fmt.Fprintf(&b, " (%s)", v.TerminalReason)
		}
		return b.String()
	}
	if v.Status == models.StatusWaiting {
		fmt.Fprintf(&b, " | position %d", v.Position)
		fmt.Fprintf(&b, " | about %s left", formatMinutes(v.Remaining))
	}
	if v.LateReason != "" {
		fmt.Fprintf(&b, " | %s", v.LateReason)
	}
	if v.ConnectionIssue {
		b.WriteString(" | reconnecting...")
	}
	return b.String()
}

// formatQueueSummary summarizes a doctor's queue on one line.
func formatQueueSummary(v session.DoctorSnapshot) string {
	s := v.Stats
	line := fmt.Sprintf("Queue: %d total, %d waiting, %d consulting, avg wait %s",
		s.Total, s.Waiting, s.Consulting, formatMinutes(s.AverageWaitTime))
	if !v.Connection.Connected {
		line += " | offline"
	} else if !v.RoomJoined {
		line += " | joining..."
	}
	return line
}

// printQueue writes the doctor's queue as a table.
func printQueue(w io.Writer, v session.DoctorSnapshot) {
	if len(v.Queue) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return
	}
	fmt.Fprintf(w, "%-4s %-24s %-20s %-16s %s\n", "#", "PATIENT ID", "NAME", "STATUS", "WAITING")
	for i, p := range v.Queue {
		fmt.Fprintf(w, "%-4d %-24s %-20s %-16s %s\n",
			i+1, truncate(p.ID, 24), truncate(p.Name, 20), statusLabel(p.Status), formatMinutes(p.WaitingTime))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
