package subscription

import (
	"fmt"

	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/usage"
)

// BlockerType classifies a downgrade blocker.
type BlockerType string

// BlockerType constants.
const (
	// BlockerMembers must be resolved before the downgrade can proceed.
	BlockerMembers BlockerType = "members"
	// BlockerStorage is advisory; the downgrade proceeds with a warning.
	BlockerStorage BlockerType = "storage"
)

const bytesPerMB = 1024 * 1024

// Blocker is a reason preventing, or warning about, a move to a lower tier.
type Blocker struct {
	Type    BlockerType `json:"type"`
	Excess  int64       `json:"excess"`
	Limit   int64       `json:"limit"`
	Current int64       `json:"current"`
	Message string      `json:"message"`
}

// Validation is the outcome of a downgrade check.
type Validation struct {
	Allowed  bool           `json:"allowed"`
	Blockers []Blocker      `json:"blockers"`
	Usage    usage.Snapshot `json:"usage"`
}

// HardBlockers returns the blockers that prevent the downgrade.
func (v Validation) HardBlockers() []Blocker {
	return filterBlockers(v.Blockers, BlockerMembers)
}

// Warnings returns the advisory blockers.
func (v Validation) Warnings() []Blocker {
	return filterBlockers(v.Blockers, BlockerStorage)
}

func filterBlockers(in []Blocker, typ BlockerType) []Blocker {
	out := make([]Blocker, 0, len(in))
	for _, b := range in {
		if b.Type == typ {
			out = append(out, b)
		}
	}
	return out
}

// Evaluate compares snap against the limits of target. Member blockers come
// before storage blockers; the downgrade is allowed iff there is no member
// blocker.
func Evaluate(target plans.Plan, snap usage.Snapshot) Validation {
	blockers := make([]Blocker, 0, 2)

	if limit := target.Limits.MaxMembers; snap.Members > limit {
		excess := snap.Members - limit
		blockers = append(blockers, Blocker{
			Type:    BlockerMembers,
			Excess:  excess,
			Limit:   limit,
			Current: snap.Members,
			Message: fmt.Sprintf(
				"The %s plan allows %d members and this account has %d. Remove %d %s before downgrading.",
				target.Name, limit, snap.Members, excess, plural(excess, "member", "members"),
			),
		})
	}

	if limitBytes := target.Limits.StorageBytes(); snap.StorageBytes > limitBytes {
		excessMB := (snap.StorageBytes - limitBytes + bytesPerMB - 1) / bytesPerMB
		blockers = append(blockers, Blocker{
			Type:    BlockerStorage,
			Excess:  excessMB,
			Limit:   target.Limits.StorageMB,
			Current: (snap.StorageBytes + bytesPerMB - 1) / bytesPerMB,
			Message: fmt.Sprintf(
				"Storage use exceeds the %s plan limit of %d MB by %d MB. Existing files stay available but new uploads are blocked until usage is reduced.",
				target.Name, target.Limits.StorageMB, excessMB,
			),
		})
	}

	allowed := true
	for _, b := range blockers {
		if b.Type == BlockerMembers {
			allowed = false
		}
	}
	return Validation{Allowed: allowed, Blockers: blockers, Usage: snap}
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
