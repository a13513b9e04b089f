package permissions

import (
	"fmt"
	"strings"
)

// PlanTier is a subscription level gating tool access
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"

	// PlanDeveloper is the internal plan and unlocks everything,
	// including experimental tools
	PlanDeveloper PlanTier = "developer"
)

var planRanks = map[PlanTier]int{
	PlanFree:       0,
	PlanPro:        1,
	PlanEnterprise: 2,
	PlanDeveloper:  3,
}

// ParsePlan converts a plan name into a PlanTier
func ParsePlan(s string) (PlanTier, error) {
	plan := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := planRanks[plan]; !ok {
		return "", fmt.Errorf("unknown plan tier: %q", s)
	}
	return plan, nil
}

// Rank returns the plan's position in the tier order.
// Unknown plans rank below free.
func (p PlanTier) Rank() int {
	if rank, ok := planRanks[p]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether p ranks at or above other
func (p PlanTier) AtLeast(other PlanTier) bool {
	return p.Rank() >= other.Rank()
}

func (p PlanTier) String() string {
	return string(p)
}

// Plans returns all known plan tiers in ascending rank order
func Plans() []PlanTier {
	return []PlanTier{PlanFree, PlanPro, PlanEnterprise, PlanDeveloper}
}
