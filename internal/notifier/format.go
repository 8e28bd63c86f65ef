package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"surveil/internal/detect"
	"surveil/pkg/types"
)

// Field is one embed field in the webhook's fixed payload schema.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// FormatTitle renders the embed's title: priority and signal type.
func FormatTitle(a Alert) string {
	return fmt.Sprintf("[%s] %s", a.Priority, humanSignalType(a.SignalType))
}

// FormatSummary renders a one-line, human-readable description of an alert
// suitable for the webhook's description field.
func FormatSummary(a Alert) string {
	return fmt.Sprintf("%s on %s (%s, score %.2f, %s ago)",
		humanSignalType(a.SignalType),
		a.MarketID,
		a.Direction,
		a.AdjustedScore,
		humanize.Time(a.Timestamp),
	)
}

// FormatColor maps priority to a Discord-style embed color (decimal RGB).
func FormatColor(p types.Priority) int {
	switch p {
	case types.PriorityCritical:
		return 0xE03131 // red
	case types.PriorityHigh:
		return 0xF08C00 // orange
	case types.PriorityMedium:
		return 0xF2C94C // yellow
	default:
		return 0x868E96 // grey
	}
}

// FormatFields renders an ordered set of embed fields, pulling out the few
// numeric metadata fields worth surfacing per signal type. Field order is
// fixed by construction, never by ranging a map, so the payload is
// deterministic across runs.
func FormatFields(a Alert) []Field {
	fields := []Field{
		{Name: "confidence", Value: fmt.Sprintf("%.0f%%", a.Confidence*100), Inline: true},
		{Name: "market", Value: a.MarketID, Inline: true},
		{Name: "priority", Value: string(a.Priority), Inline: true},
	}

	switch meta := a.Metadata.(type) {
	case detect.OrderbookImbalanceMeta:
		fields = append(fields, Field{Name: "imbalance", Value: fmt.Sprintf("%.2f", meta.Imbalance), Inline: true})
	case detect.SpreadAnomalyMeta:
		fields = append(fields, Field{Name: "spread_vs_baseline", Value: fmt.Sprintf("%.1fx", meta.Spread/meta.Baseline), Inline: true})
	case detect.MarketMakerWithdrawalMeta:
		fields = append(fields, Field{Name: "depth_drop", Value: fmt.Sprintf("%.0f%%", meta.DropPct), Inline: true})
	case detect.LiquidityVacuumMeta:
		fields = append(fields,
			Field{Name: "bid_drop", Value: fmt.Sprintf("%.0f%%", meta.BidDropPct), Inline: true},
			Field{Name: "ask_drop", Value: fmt.Sprintf("%.0f%%", meta.AskDropPct), Inline: true},
		)
	case detect.AggressiveFlowMeta:
		fields = append(fields, Field{Name: "z_score", Value: fmt.Sprintf("%.1f", meta.ZScore), Inline: true})
	case detect.FrontRunningMeta:
		fields = append(fields, Field{Name: "tier", Value: string(meta.Tier), Inline: true})
	case detect.VolumeSpikeMeta:
		fields = append(fields,
			Field{Name: "volume_multiple", Value: fmt.Sprintf("%.1fx", meta.Multiple), Inline: true},
			Field{Name: "current_volume", Value: FormatVolume(meta.CurrentVolume), Inline: true},
		)
	case detect.PriceMovementMeta:
		fields = append(fields, Field{Name: "change_pct", Value: fmt.Sprintf("%.1f%%", meta.ChangePct), Inline: true})
	case detect.CorrelationMeta:
		fields = append(fields,
			Field{Name: "avg_correlation", Value: fmt.Sprintf("%.2f", meta.AvgCorrelation), Inline: true},
			Field{Name: "cluster_size", Value: fmt.Sprintf("%d", meta.ClusterSize), Inline: true},
		)
	}

	return fields
}

// FormatFooter renders the embed's footer text: the raw signal type plus
// how long ago it fired, using the same approximate phrasing FormatDuration
// gives the rest of the codebase for durations.
func FormatFooter(a Alert, now time.Time) string {
	return fmt.Sprintf("%s · fired %s", string(a.SignalType), FormatDuration(now.Sub(a.Timestamp)))
}

func humanSignalType(t types.SignalType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// FormatVolume renders a dollar volume as whole dollars with thousands
// separators (e.g. "$12,300"), used when a detector's metadata carries a volume figure
// worth surfacing in an embed field.
func FormatVolume(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 0)
}

// FormatDuration renders a duration using humanize's approximate,
// round-number relative phrasing (e.g. "2 hours ago").
func FormatDuration(d time.Duration) string {
	return humanize.RelTime(time.Now().Add(-d), time.Now(), "ago", "")
}
