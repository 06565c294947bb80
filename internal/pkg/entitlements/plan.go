package entitlements

import (
	"github.com/prolocal/prolocal/internal/pkg/apperr"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPlus       Plan = "plus"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

// ServiceLimitUnbounded marks a tier with no cap on owned services.
const ServiceLimitUnbounded = -1

// PlanTier is a compiled-in plan definition. The catalog is the only source
// of truth for prices and quotas; amounts are never taken from a caller or
// from provider payloads without being checked against it.
type PlanTier struct {
	ID             Plan     `json:"id"`
	DisplayName    string   `json:"name"`
	PriceCents     int64    `json:"price"`
	ServiceLimit   int      `json:"service_limit"`
	HighlightLimit int      `json:"highlight_limit"`
	HighlightTier  string   `json:"highlight_tier,omitempty"`
	Features       []string `json:"features"`
}

// Unbounded reports whether the tier has no service cap.
func (t PlanTier) Unbounded() bool {
	return t.ServiceLimit == ServiceLimitUnbounded
}

var catalog = map[Plan]PlanTier{
	PlanFree: {
		ID:             PlanFree,
		DisplayName:    "Free",
		PriceCents:     0,
		ServiceLimit:   1,
		HighlightLimit: 0,
		Features: []string{
			"1 listed service",
			"Basic listing",
		},
	},
	PlanPlus: {
		ID:             PlanPlus,
		DisplayName:    "Plus",
		PriceCents:     1499,
		ServiceLimit:   5,
		HighlightLimit: 2,
		HighlightTier:  "plus",
		Features: []string{
			"Up to 5 services",
			"Plus highlight on 2 services",
			"Basic statistics",
			"Priority support",
		},
	},
	PlanPremium: {
		ID:             PlanPremium,
		DisplayName:    "Premium",
		PriceCents:     2199,
		ServiceLimit:   15,
		HighlightLimit: 5,
		HighlightTier:  "premium",
		Features: []string{
			"Up to 15 services",
			"Premium highlight on 5 services",
			"Advanced statistics",
			"24/7 support",
			"Verification badge",
		},
	},
	PlanEnterprise: {
		ID:             PlanEnterprise,
		DisplayName:    "Enterprise",
		PriceCents:     4299,
		ServiceLimit:   50,
		HighlightLimit: 15,
		HighlightTier:  "enterprise",
		Features: []string{
			"Up to 50 services",
			"Enterprise highlight on 15 services",
			"Full analytics",
			"Dedicated account manager",
		},
	},
}

// planOrder keeps ListPlans output stable for public display.
var planOrder = []Plan{PlanFree, PlanPlus, PlanPremium, PlanEnterprise}

// GetPlan resolves a plan id to its tier definition.
func GetPlan(id Plan) (PlanTier, error) {
	tier, ok := catalog[id]
	if !ok {
		return PlanTier{}, apperr.UnknownPlan(string(id))
	}
	return tier, nil
}

// ListPlans returns all tiers in display order.
func ListPlans() []PlanTier {
	tiers := make([]PlanTier, 0, len(planOrder))
	for _, id := range planOrder {
		tiers = append(tiers, catalog[id])
	}
	return tiers
}
