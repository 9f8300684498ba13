package subscription

import (
	"testing"

	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/usage"
)

func TestEvaluate_MemberExcess(t *testing.T) {
	for _, tier := range []plans.Tier{plans.TierFamily, plans.TierSingleAgency, plans.TierMultiAgency} {
		plan := plans.MustLookup(tier)
		limit := plan.Limits.MaxMembers
		for members := int64(0); members <= limit+3; members++ {
			v := Evaluate(plan, usage.Snapshot{Members: members})
			hard := v.HardBlockers()
			if members > limit {
				if v.Allowed {
					t.Fatalf("%s: expected %d members to block", tier, members)
				}
				if len(hard) != 1 || hard[0].Excess != members-limit {
					t.Fatalf("%s: expected excess %d, got %+v", tier, members-limit, hard)
				}
				continue
			}
			if !v.Allowed || len(hard) != 0 {
				t.Fatalf("%s: expected %d members to pass, got %+v", tier, members, v)
			}
		}
	}
}

func TestEvaluate_StorageIsAdvisory(t *testing.T) {
	plan := plans.MustLookup(plans.TierFamily)
	v := Evaluate(plan, usage.Snapshot{Members: 1, StorageBytes: plan.Limits.StorageBytes() + 1})
	if !v.Allowed {
		t.Fatalf("expected storage-only breach to be allowed")
	}
	if len(v.Blockers) != 1 || v.Blockers[0].Type != BlockerStorage {
		t.Fatalf("expected exactly one storage blocker, got %+v", v.Blockers)
	}
	if v.Blockers[0].Excess != 1 {
		t.Fatalf("expected excess rounded up to 1 MB, got %d", v.Blockers[0].Excess)
	}
	if len(v.Warnings()) != 1 || len(v.HardBlockers()) != 0 {
		t.Fatalf("expected one warning and no hard blockers, got %+v", v)
	}
}

func TestEvaluate_MembersBeforeStorage(t *testing.T) {
	plan := plans.MustLookup(plans.TierSingleAgency)
	v := Evaluate(plan, usage.Snapshot{Members: 4, StorageBytes: 2 * plan.Limits.StorageBytes()})
	if v.Allowed {
		t.Fatalf("expected member breach to block")
	}
	if len(v.Blockers) != 2 {
		t.Fatalf("expected two blockers, got %+v", v.Blockers)
	}
	if v.Blockers[0].Type != BlockerMembers || v.Blockers[1].Type != BlockerStorage {
		t.Fatalf("expected members then storage, got %+v", v.Blockers)
	}
	if v.Blockers[1].Excess != plan.Limits.StorageMB {
		t.Fatalf("expected storage excess %d MB, got %d", plan.Limits.StorageMB, v.Blockers[1].Excess)
	}
}

func TestEvaluate_EmptyAccount(t *testing.T) {
	v := Evaluate(plans.MustLookup(plans.TierFamily), usage.Snapshot{})
	if !v.Allowed || len(v.Blockers) != 0 {
		t.Fatalf("expected no blockers, got %+v", v)
	}
}
