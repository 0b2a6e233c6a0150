package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// formatNumber adds comma separators to integers.
func formatNumber[T ~int | ~int64 | ~uint64](n T) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

// formatPct formats part/total as a percentage string.
func formatPct(part, total uint64) string {
	if total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(total))
}

// formatMs formats milliseconds with a "ms" suffix.
func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatCounts(c types.RunCounts) string {
	return joinLines(
		kv("Makers", c.Makers),
		kv("Takers", c.Takers),
		kv("Markets", fmt.Sprintf("%d (%d failed)", c.Markets, c.MarketsFailed)),
		kv("Accounts", c.Accounts),
		kv("Orders", formatNumber(c.Orders)),
		kv("Take Orders", fmt.Sprintf("%s (%d failed)", formatNumber(c.TakeOrders), c.TakeOrdersFailed)),
		kv("Settlements", formatNumber(c.Settlements)),
	)
}

func formatLatency(title string, lat *types.LatencyStats) string {
	if lat == nil || lat.Count == 0 {
		return ""
	}
	return joinLines(
		section(title),
		kv("Count", formatNumber(lat.Count)),
		kv("Min", formatMs(lat.Min)),
		kv("P50", formatMs(lat.P50)),
		kv("P90", formatMs(lat.P90)),
		kv("P99", formatMs(lat.P99)),
		kv("Max", formatMs(lat.Max)),
	)
}

func formatVerification(v *types.Verification) string {
	if v == nil {
		return ""
	}
	state := "PASSED"
	if !v.Passed {
		state = "FAILED"
	}
	lines := []string{section("Balance Verification: " + state)}
	for _, c := range v.Checks {
		mark := "ok"
		if !c.OK {
			mark = "MISMATCH"
		}
		lines = append(lines, fmt.Sprintf("  %-12s expected %s observed %s (±%d) %s",
			c.Name, formatNumber(c.Expected), formatNumber(c.Observed), c.Tolerance, mark))
	}
	return joinLines(lines...)
}

// blocks joins non-empty sections with blank lines.
func blocks(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func formatStatus(st types.LiveStatus) string {
	head := []string{
		section("Load Generator Status"),
		kv("Status", st.Status),
	}
	if st.RunID != "" {
		head = append(head,
			kv("Run", st.RunID),
			kv("Kind", st.Kind),
		)
	}
	if st.Phase != types.PhaseNone {
		head = append(head, kv("Phase", st.Phase))
	}
	head = append(head,
		kv("Elapsed", fmt.Sprintf("%.1fs", float64(st.ElapsedMs)/1000)),
		kv("TXs Sent", formatNumber(st.TxSent)),
		kv("TXs Confirmed", fmt.Sprintf("%s (%s)", formatNumber(st.TxConfirmed), formatPct(st.TxConfirmed, st.TxSent))),
		kv("TXs Failed", formatNumber(st.TxFailed)),
	)
	if st.Error != "" {
		head = append(head, kv("Error", st.Error))
	}

	return blocks(
		joinLines(head...),
		joinLines(section("Counts"), formatCounts(st.Counts)),
		formatLatency("Confirmation Latency", st.TxLatency),
		formatLatency("Settle Latency", st.SettleLatency),
	)
}

func formatHealth(ready bool, checks []readinessCheck) string {
	state := "READY"
	if !ready {
		state = "NOT READY"
	}
	lines := []string{section("Load Generator Health: " + state)}
	for _, c := range checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", c.Name, c.Status, c.LatencyMs)
		if c.Error != "" {
			line += " - " + c.Error
		}
		lines = append(lines, line)
	}
	return joinLines(lines...)
}

func formatHistory(list types.RunList) string {
	head := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(list.Total)),
	)
	if len(list.Runs) == 0 {
		return head + "\n\nNo runs found."
	}

	parts := []string{head}
	for _, r := range list.Runs {
		verified := "n/a"
		if r.Verification != nil {
			verified = fmt.Sprintf("%t", r.Verification.Passed)
		}
		parts = append(parts, joinLines(
			"### "+r.ID,
			kv("Kind", r.Kind),
			kv("Status", r.Status),
			kv("Started", formatTime(r.StartedAt)),
			kv("Duration", fmt.Sprintf("%.1fs", float64(r.DurationMs)/1000)),
			kv("Orders", formatNumber(r.Counts.Orders)),
			kv("Balances Verified", verified),
		))
	}
	return blocks(parts...)
}

func formatRunDetail(d types.RunDetail) string {
	head := []string{
		section("Run: " + d.ID),
		kv("Kind", d.Kind),
		kv("Status", d.Status),
		kv("Started", formatTime(d.StartedAt)),
		kv("Duration", fmt.Sprintf("%.1fs", float64(d.DurationMs)/1000)),
		kv("TXs Sent", formatNumber(d.TxSent)),
		kv("TXs Failed", formatNumber(d.TxFailed)),
	}
	if d.Error != "" {
		head = append(head, kv("Error", d.Error))
	}

	var markets string
	if len(d.Markets) > 0 {
		lines := []string{section("Markets")}
		for _, m := range d.Markets {
			lines = append(lines, fmt.Sprintf("  %-10s %s (owner %s)", m.Name, m.Address, m.Owner))
		}
		markets = joinLines(lines...)
	}

	return blocks(
		joinLines(head...),
		joinLines(section("Counts"), formatCounts(d.Counts)),
		formatVerification(d.Verification),
		formatLatency("Settle Latency", d.SettleLatency),
		markets,
	)
}
