package entitlement

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestTierAllows(t *testing.T) {
	free := FreeTier()
	if free.Allows(FeatureOCR) || free.Allows(FeatureAdvancedWatermark) {
		t.Fatalf("free tier licenses optional features")
	}
	if free.ByteLimit != 20<<20 {
		t.Fatalf("free byte limit: %d", free.ByteLimit)
	}

	pro := ProTier()
	for _, f := range []FeatureFlag{FeatureOCR, FeatureAdvancedWatermark, FeatureBulkOps, FeatureAIDuplicateDetection} {
		if !pro.Allows(f) {
			t.Fatalf("pro tier missing %s", f)
		}
	}
}

func TestNotLicensedError(t *testing.T) {
	err := error(&NotLicensedError{Feature: FeatureBulkOps})
	if !strings.Contains(err.Error(), "BULK_OPS") {
		t.Fatalf("error must name the feature: %v", err)
	}
	var nle *NotLicensedError
	if !errors.As(err, &nle) || nle.Feature != FeatureBulkOps {
		t.Fatalf("errors.As: %v", err)
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{Tier: ProTier()}
	tier, err := r.ResolveTier(context.Background(), "anyone")
	if err != nil || tier.Name != "pro" {
		t.Fatalf("resolve: %v, %v", tier, err)
	}
}

func TestPlanResolver(t *testing.T) {
	r := PlanResolver{Plans: map[string]Tier{"free": FreeTier(), "pro": ProTier()}}
	tier, err := r.ResolveTier(context.Background(), "pro")
	if err != nil || !tier.Allows(FeatureOCR) {
		t.Fatalf("known plan: %v, %v", tier, err)
	}
	if _, err := r.ResolveTier(context.Background(), "enterprise"); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("unknown plan: %v", err)
	}
}
