package billing

import (
	"context"
	"testing"

	"viberesume/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanResolver_AdminOverride(t *testing.T) {
	idp := &fakeIdentity{info: &types.AccountInfo{Email: "owner@viberesume.app", EmailVerified: true}}
	plans := &fakePlanChecker{has: false}
	r := NewPlanResolver(idp, plans, PlanResolverConfig{AdminEmail: "owner@viberesume.app"}, discardLogger)

	got, err := r.IsUnlimited(context.Background(), "user_admin")
	require.NoError(t, err)
	assert.True(t, got, "admin is unlimited even when billing says free")
	assert.Equal(t, 0, plans.calls)
}

func TestPlanResolver_AdminOverrideNeedsExactVerifiedMatch(t *testing.T) {
	tests := []struct {
		name string
		info types.AccountInfo
	}{
		{"unverified", types.AccountInfo{Email: "owner@viberesume.app", EmailVerified: false}},
		{"case differs", types.AccountInfo{Email: "Owner@viberesume.app", EmailVerified: true}},
		{"other address", types.AccountInfo{Email: "someone@example.com", EmailVerified: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			plans := &fakePlanChecker{has: false}
			r := NewPlanResolver(&fakeIdentity{info: &info}, plans, PlanResolverConfig{AdminEmail: "owner@viberesume.app"}, discardLogger)

			got, err := r.IsUnlimited(context.Background(), "user_1")
			require.NoError(t, err)
			assert.False(t, got)
			assert.Equal(t, 1, plans.calls)
		})
	}
}

func TestPlanResolver_DelegatesToPlanChecker(t *testing.T) {
	idp := &fakeIdentity{info: &types.AccountInfo{Email: "a@example.com", EmailVerified: true}}
	plans := &fakePlanChecker{has: true}
	r := NewPlanResolver(idp, plans, PlanResolverConfig{}, discardLogger)

	got, err := r.IsUnlimited(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, DefaultProPlanID, plans.lastID)
	assert.Equal(t, 0, idp.calls, "no admin configured, no identity lookup")
}

func TestPlanResolver_NoCaching(t *testing.T) {
	idp := &fakeIdentity{info: &types.AccountInfo{Email: "a@example.com", EmailVerified: true}}
	plans := &fakePlanChecker{}
	r := NewPlanResolver(idp, plans, PlanResolverConfig{AdminEmail: "owner@viberesume.app", ProPlanID: "custom_pro"}, discardLogger)

	for i := 0; i < 3; i++ {
		_, err := r.IsUnlimited(context.Background(), "user_1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, idp.calls)
	assert.Equal(t, 3, plans.calls)
	assert.Equal(t, "custom_pro", plans.lastID)
}

func TestPlanResolver_Errors(t *testing.T) {
	t.Run("no principal", func(t *testing.T) {
		r := NewPlanResolver(&fakeIdentity{}, &fakePlanChecker{}, PlanResolverConfig{}, discardLogger)
		_, err := r.IsUnlimited(context.Background(), "")
		assert.True(t, types.IsCode(err, types.ErrCodeAuthNoPrincipal))
	})

	t.Run("identity provider failure", func(t *testing.T) {
		idp := &fakeIdentity{err: types.NewAppError(types.ErrCodeUpstreamIdentityProvider, "down", nil)}
		plans := &fakePlanChecker{has: true}
		r := NewPlanResolver(idp, plans, PlanResolverConfig{AdminEmail: "owner@viberesume.app"}, discardLogger)

		got, err := r.IsUnlimited(context.Background(), "user_1")
		assert.False(t, got)
		assert.True(t, types.IsCode(err, types.ErrCodeUpstreamIdentityProvider))
	})

	t.Run("plan checker failure", func(t *testing.T) {
		plans := &fakePlanChecker{err: types.NewAppError(types.ErrCodeUpstreamBillingProvider, "down", nil)}
		r := NewPlanResolver(&fakeIdentity{}, plans, PlanResolverConfig{}, discardLogger)

		got, err := r.IsUnlimited(context.Background(), "user_1")
		assert.False(t, got)
		assert.True(t, types.IsCode(err, types.ErrCodeUpstreamBillingProvider))
	})
}
