package domain

import "fmt"

// UsageSnapshot is what an adapter probe reports for one account: the
// daemon's cumulative byte counter since it started, and the number of
// concurrent sessions right now.
type UsageSnapshot struct {
	Bytes    int64
	Sessions int
}

// AdvanceUsage folds a raw probe value into the persisted counter.
// Counters never decrease: a raw value below the previous sample means the
// daemon restarted and its counter reset, so the whole raw value is new
// traffic rather than a negative delta.
func AdvanceUsage(persisted, prevRaw, raw int64) int64 {
	if raw >= prevRaw {
		return persisted + (raw - prevRaw)
	}
	return persisted + raw
}

// FormatBytes renders a byte count the way the CLI and bot present it.
func FormatBytes(v int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case v >= gib:
		return fmt.Sprintf("%.2fGB", float64(v)/gib)
	case v >= mib:
		return fmt.Sprintf("%.1fMB", float64(v)/mib)
	case v >= kib:
		return fmt.Sprintf("%.1fKB", float64(v)/kib)
	default:
		return fmt.Sprintf("%dB", v)
	}
}

// GigabytesToBytes converts the quota unit used by the command surfaces.
func GigabytesToBytes(gb int64) int64 {
	return gb * (1 << 30)
}
