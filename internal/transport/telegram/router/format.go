package router

import (
	"fmt"
	"strings"

	"lanerunner/internal/lane"
	"lanerunner/internal/orchestrator"
)

// State is a one-word lane state for chat output.
func State(p orchestrator.Progress) string {
	switch {
	case p.IsRunning:
		return "running"
	case p.LimitPaused:
		return "quota paused"
	case p.Interrupted:
		return "interrupted"
	case p.Total > 0 && p.Index >= p.Total:
		return "done"
	default:
		return "idle"
	}
}

func summaryLine(p orchestrator.Progress) string {
	return fmt.Sprintf("%s: %s %d/%d", p.Lane, State(p), p.Index, p.Total)
}

func formatProgress(p orchestrator.Progress) string {
	var b strings.Builder
	b.WriteString(summaryLine(p))
	fmt.Fprintf(&b, "\nresults: %d ok, %d skipped, %d failed",
		p.Results.Count(lane.StatusSuccess), p.Results.Count(lane.StatusSkipped), p.Results.Count(lane.StatusFailed))
	if n := p.Results.Count(lane.StatusProcessing); n > 0 {
		fmt.Fprintf(&b, ", %d processing", n)
	}
	if p.QuotaLimit > 0 {
		fmt.Fprintf(&b, "\nquota: %d/%d today", p.QuotaUsed, p.QuotaLimit)
	} else {
		b.WriteString("\nquota: unlimited")
	}
	if p.OverrideActive {
		b.WriteString(" (override)")
	}
	if p.NextTickAt != nil {
		fmt.Fprintf(&b, "\nnext tick: %s", p.NextTickAt.Format("15:04:05"))
	}
	return b.String()
}
