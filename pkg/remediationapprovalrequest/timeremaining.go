// Package remediationapprovalrequest implements the ApprovalToken lifecycle:
// TTL bookkeeping and single-use redemption for gated SOP candidates.
package remediationapprovalrequest

import "time"

// ComputeTimeRemaining returns the duration between now and requiredBy,
// formatted with time.Duration.String(), clamped to "0s" once the deadline
// has passed.
func ComputeTimeRemaining(requiredBy, now time.Time) string {
	remaining := requiredBy.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining.String()
}
