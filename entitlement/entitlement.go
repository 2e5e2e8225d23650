// Package entitlement resolves what a caller's plan allows: the cumulative
// upload byte limit and the set of optional features. The engine consults the
// resolved Tier once at the session boundary; gated operations fail with
// NotLicensedError instead of silently degrading.
package entitlement

import (
	"context"
	"errors"
	"fmt"
)

// FeatureFlag names an optional, plan-gated capability.
type FeatureFlag string

const (
	FeatureOCR                  FeatureFlag = "OCR"
	FeatureAdvancedWatermark    FeatureFlag = "ADVANCED_WATERMARK"
	FeatureBulkOps              FeatureFlag = "BULK_OPS"
	FeatureAIDuplicateDetection FeatureFlag = "AI_DUPLICATE_DETECTION"
)

// Tier bounds what a session may do.
type Tier struct {
	Name      string
	ByteLimit int64
	Features  map[FeatureFlag]bool
}

// Allows reports whether the tier licenses the given feature.
func (t Tier) Allows(flag FeatureFlag) bool { return t.Features[flag] }

// NotLicensedError reports an attempt to use a feature the tier does not
// include.
type NotLicensedError struct {
	Feature FeatureFlag
}

func (e *NotLicensedError) Error() string {
	return fmt.Sprintf("entitlement: feature %s not licensed", e.Feature)
}

// ErrUnknownPlan is returned by resolvers for plan names they do not know.
var ErrUnknownPlan = errors.New("entitlement: unknown plan")

// Resolver looks up the tier for a caller context. Implementations may call
// out to a backend; the engine treats resolution as a one-time boundary check.
type Resolver interface {
	ResolveTier(ctx context.Context, userID string) (Tier, error)
}

// StaticResolver maps every caller to a fixed tier. It is the default used by
// tests and by hosts without a plan backend.
type StaticResolver struct {
	Tier Tier
}

func (r StaticResolver) ResolveTier(ctx context.Context, userID string) (Tier, error) {
	return r.Tier, nil
}

// FreeTier is the default plan: 20 MB of cumulative uploads, no optional
// features.
func FreeTier() Tier {
	return Tier{Name: "free", ByteLimit: 20 << 20, Features: map[FeatureFlag]bool{}}
}

// ProTier licenses every optional feature with a 200 MB upload allowance.
func ProTier() Tier {
	return Tier{
		Name:      "pro",
		ByteLimit: 200 << 20,
		Features: map[FeatureFlag]bool{
			FeatureOCR:                  true,
			FeatureAdvancedWatermark:    true,
			FeatureBulkOps:              true,
			FeatureAIDuplicateDetection: true,
		},
	}
}

// PlanResolver resolves tiers from a fixed plan table keyed by plan name.
type PlanResolver struct {
	Plans map[string]Tier
}

func (r PlanResolver) ResolveTier(ctx context.Context, plan string) (Tier, error) {
	if t, ok := r.Plans[plan]; ok {
		return t, nil
	}
	return Tier{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
}
