package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fundingwatch/internal/monitor"
)

var hundred = decimal.NewFromInt(100)

// Percent renders a fractional rate as a percentage with the given precision.
func Percent(v decimal.Decimal, places int32) string {
	return v.Mul(hundred).StringFixed(places) + "%"
}

func directionMark(d monitor.Direction) string {
	switch d {
	case monitor.Increase:
		return "📈↑"
	case monitor.Decrease:
		return "📉↓"
	default:
		return "↔️"
	}
}

// FormatChange renders one rate change event for the operator channel.
func FormatChange(ev monitor.ChangeEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 #%s %s\n\n", ev.Symbol, directionMark(ev.Direction))
	fmt.Fprintf(&b, "Current rate: %s\n", Percent(ev.Current, 6))
	fmt.Fprintf(&b, "Previous rate: %s\n", Percent(ev.Previous, 6))
	fmt.Fprintf(&b, "Change: %s\n", Percent(ev.Delta, 6))
	fmt.Fprintf(&b, "Next funding: %s", monitor.FormatRemaining(ev.Remaining))
	return b.String()
}

// FormatStatus renders the status report.
func FormatStatus(st Status) string {
	var b strings.Builder
	b.WriteString("🤔 Bot status\n\n")
	fmt.Fprintf(&b, "🔍 Symbols tracked: %d\n", st.Tracked)
	fmt.Fprintf(&b, "⚙️ Notification threshold: %s\n", Percent(st.Threshold, 4))

	remaining := "unknown"
	if st.HasNextEvent {
		remaining = monitor.FormatRemaining(st.Remaining)
	}
	fmt.Fprintf(&b, "⏳ Time until next funding: %s\n", remaining)

	if st.ConnectionOK {
		b.WriteString("✅ Connection status: active\n")
	} else {
		b.WriteString("❌ Connection status: error\n")
		if st.Err != nil {
			fmt.Fprintf(&b, "Error: %v\n", st.Err)
		}
	}
	fmt.Fprintf(&b, "\nLast check: %s", st.CheckedAt.Format("15:04:05"))
	return b.String()
}

// FormatCheck summarises a manual check.
func FormatCheck(events []monitor.ChangeEvent) string {
	dispatched := monitor.Dispatched(events)
	if len(events) == 0 {
		return "✅ Check completed. No tracked symbols changed."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Check completed. %d symbols compared, %d above the threshold.\n", len(events), len(dispatched))
	for _, ev := range largestMoves(events, 10) {
		fmt.Fprintf(&b, "\n#%s %s %s", ev.Symbol, directionMark(ev.Direction), Percent(ev.Delta, 6))
	}
	return b.String()
}

func largestMoves(events []monitor.ChangeEvent, n int) []monitor.ChangeEvent {
	sorted := append([]monitor.ChangeEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Delta.GreaterThan(sorted[j].Delta)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func formatLaunch(at time.Time, tracked int) string {
	return fmt.Sprintf("💰 Funding rate monitor has been launched!\n%s\n%d symbols are being tracked",
		at.Format("2006-01-02 15:04:05"), tracked)
}

func formatRecovered(failures int) string {
	return fmt.Sprintf("📡 Connection re-established (tries: %d)", failures)
}

func formatTrouble(err error) string {
	return fmt.Sprintf("❌ The monitor is having trouble connecting. Last error: %v\nIt will try to reconnect automatically.", err)
}

func formatLivenessFailure(err error) string {
	return fmt.Sprintf("⚠️ Connection problem detected. Attempting automatic restart...\nError: %v", err)
}

func formatAutoRestarted(tracked int) string {
	return fmt.Sprintf("✅ Monitor automatically restarted. %d symbols are being tracked.", tracked)
}

func formatAutoRestartFailed(err error) string {
	return fmt.Sprintf("❌ Automatic restart failed: %v\nManual intervention may be required.", err)
}

func formatHealth(at time.Time) string {
	return fmt.Sprintf("📊 Health check: %s\nEverything is working normally.", at.Format("15:04:05"))
}

func formatAlertFailures(failed map[string]error) string {
	symbols := make([]string, 0, len(failed))
	for s := range failed {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Price alerts could not be checked for %d symbols:", len(symbols))
	for _, s := range symbols {
		fmt.Fprintf(&b, "\n%s: %v", s, failed[s])
	}
	return b.String()
}
