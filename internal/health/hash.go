package health

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// ComputeHash builds a canonical pipe-delimited string from the durable
// state's significant fields and returns its FNV-1a 32-bit digest as eight
// hex digits. UpdatedAt, ChangeCount, and the hash field itself are
// excluded, so re-stamping the same inputs yields the same hash.
func ComputeHash(d *DurableSessionState) string {
	parts := []string{
		d.SessionID,
		d.AuthProfile,
		d.Status,
		strings.Join(d.Issues, ";"),
		fmt.Sprintf("%d|%d|%d", d.CostTodayCents, d.SessionCents, d.BurnCentsHour),
		fmt.Sprintf("%d|%d|%d", d.LastActivity, d.MessageCount, d.DurationMin),
		fmt.Sprintf("%s|%d", d.ModelValue, d.ModelConfidence),
		fmt.Sprintf("%d|%d|%d", d.CtxUsed, d.CtxThreshold, d.CtxPercent),
		fmt.Sprintf("%d", d.AlertBits),
		fmt.Sprintf("%d|%d", d.WeeklyPercent, d.WeeklyRemaining),
		fmt.Sprintf("%s|%d|%d|%t", d.GitBranch, d.GitAhead, d.GitBehind, d.GitDirty),
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%08x", h.Sum32())
}

// Stamp writes the computed hash into d, carries the change counter over
// from prev, bumps it iff the hash changed, and reports whether the record
// is new (no previous durable state existed).
func Stamp(d *DurableSessionState, prev *DurableSessionState) bool {
	d.Hash = ComputeHash(d)
	if prev == nil {
		d.ChangeCount = 1
		return true
	}
	d.ChangeCount = prev.ChangeCount
	if prev.Hash != d.Hash {
		d.ChangeCount++
	}
	return false
}
