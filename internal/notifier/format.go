package notifier

import (
	"fmt"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/internal/orchestrator"
)

// FormatEvent renders a lane event for the operator chat.
func FormatEvent(ev eventbus.Event) string {
	p, _ := ev.Data.(orchestrator.Progress)
	pos := fmt.Sprintf("%d/%d", p.Index, p.Total)
	switch ev.Type {
	case eventbus.LaneCompleted:
		return fmt.Sprintf("✅ %s completed %s: %d ok, %d skipped, %d failed", ev.Lane, pos,
			p.Results.Count(lane.StatusSuccess), p.Results.Count(lane.StatusSkipped), p.Results.Count(lane.StatusFailed))
	case eventbus.LaneQuotaPaused:
		return fmt.Sprintf("⏸ %s paused at %s: daily quota %d/%d reached", ev.Lane, pos, p.QuotaUsed, p.QuotaLimit)
	case eventbus.LaneInterrupted:
		return fmt.Sprintf("⚠️ %s interrupted at %s; /resume %s to continue", ev.Lane, pos, ev.Lane)
	case eventbus.LaneFailed:
		return fmt.Sprintf("❌ %s stopped at %s after an error", ev.Lane, pos)
	default:
		return fmt.Sprintf("%s %s %s", ev.Lane, ev.Type, pos)
	}
}
