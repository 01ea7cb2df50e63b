package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"viberesume/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldBlockAIUsage_FirstCheckCreatesCounter(t *testing.T) {
	usage := newFakeUsage()
	svc := newTestService(&fakePlans{}, usage, &fakeSites{})

	d, err := svc.ShouldBlockAIUsage(context.Background(), freeUser)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.Equal(t, 0, d.Current)
	assert.Equal(t, 10, d.Limit)
	assert.True(t, usage.has(freeUser.AccountID))
}

func TestShouldBlockAIUsage_ExhaustedBlocksGeneration(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[freeUser.AccountID] = 10
	svc := newTestService(&fakePlans{}, usage, &fakeSites{})

	d, err := svc.ShouldBlockAIUsage(context.Background(), freeUser)
	require.NoError(t, err)
	assert.True(t, d.Blocked)
	assert.Equal(t, 10, d.Limit)

	gen, err := svc.CheckGeneration(context.Background(), freeUser)
	require.NoError(t, err)
	assert.True(t, gen.Blocked)
	assert.Equal(t, types.ErrCodeLimitAIUsage, gen.Code)
	assert.Equal(t, "AI usage limit reached", gen.Reason)
}

func TestShouldBlockPortfolios_LimitBlocksGeneration(t *testing.T) {
	sites := &fakeSites{counts: map[int64]int{freeUser.AccountID: 5}}
	svc := newTestService(&fakePlans{}, newFakeUsage(), sites)

	d, err := svc.ShouldBlockPortfolios(context.Background(), freeUser)
	require.NoError(t, err)
	assert.Equal(t, Decision{
		Kind:    "portfolios",
		Blocked: true,
		Limit:   5,
		Current: 5,
		Reason:  "Portfolio limit reached",
	}, d)

	gen, err := svc.CheckGeneration(context.Background(), freeUser)
	require.NoError(t, err)
	assert.True(t, gen.Blocked)
	assert.Equal(t, types.ErrCodeLimitPortfolios, gen.Code)
	assert.Equal(t, 0, gen.AIUsage.Current)
}

func TestProAccountNeverBlocked(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[proUser.AccountID] = 999
	sites := &fakeSites{counts: map[int64]int{proUser.AccountID: 50}}
	svc := newTestService(&fakePlans{unlimited: map[string]bool{proUser.ExternalID: true}}, usage, sites)

	ai, err := svc.ShouldBlockAIUsage(context.Background(), proUser)
	require.NoError(t, err)
	assert.False(t, ai.Blocked)

	p, err := svc.ShouldBlockPortfolios(context.Background(), proUser)
	require.NoError(t, err)
	assert.False(t, p.Blocked)

	gen, err := svc.CheckGeneration(context.Background(), proUser)
	require.NoError(t, err)
	assert.False(t, gen.Blocked)
	assert.True(t, gen.Unlimited)
}

func TestCheckGeneration_BothBlockedReportsAIUsage(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[freeUser.AccountID] = 10
	sites := &fakeSites{counts: map[int64]int{freeUser.AccountID: 5}}
	rec := &fakeRecorder{}
	svc := newTestService(&fakePlans{}, usage, sites, WithDecisionRecorder(rec))

	gen, err := svc.CheckGeneration(context.Background(), freeUser)
	require.NoError(t, err)
	assert.Equal(t, types.ErrCodeLimitAIUsage, gen.Code)
	assert.True(t, gen.Portfolios.Blocked)
	assert.ElementsMatch(t, []recordedDecision{{"ai_usage", true}, {"portfolios", true}}, rec.decisions)
}

func TestCheckGeneration_FailsClosed(t *testing.T) {
	sites := &fakeSites{err: types.NewAppError(types.ErrCodeInternalDB, "timeout", nil)}
	svc := newTestService(&fakePlans{}, newFakeUsage(), sites)

	_, err := svc.CheckGeneration(context.Background(), freeUser)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeLimitCheck))
	assert.Equal(t, "limit_check_failed: Unable to verify usage limits", err.Error())
	assert.True(t, types.IsCode(errors.Unwrap(err), types.ErrCodeInternalDB))
}

func TestShouldBlock_NoPrincipalDenied(t *testing.T) {
	svc := newTestService(&fakePlans{}, newFakeUsage(), &fakeSites{})

	_, err := svc.ShouldBlockAIUsage(context.Background(), types.Principal{})
	assert.True(t, types.IsCode(err, types.ErrCodeLimitCheck))

	_, err = svc.IsUnlimitedAccount(context.Background(), types.Principal{})
	assert.True(t, types.IsCode(err, types.ErrCodeLimitCheck))
}

func TestRecordAIUsage_SkippedForPro(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[proUser.AccountID] = 3
	svc := newTestService(&fakePlans{unlimited: map[string]bool{proUser.ExternalID: true}}, usage, &fakeSites{})

	rec, err := svc.RecordAIUsage(context.Background(), proUser, 1)
	require.NoError(t, err)
	assert.True(t, rec.Skipped)
	assert.Equal(t, 3, usage.counts[proUser.AccountID])
}

func TestConsumeAIUsage_HardCap(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[freeUser.AccountID] = AIUsageLimit - 1
	svc := newTestService(&fakePlans{}, usage, &fakeSites{})

	rec, err := svc.ConsumeAIUsage(context.Background(), nil, freeUser, 1, false)
	require.NoError(t, err)
	assert.Equal(t, AIUsageLimit, rec.Count)

	_, err = svc.ConsumeAIUsage(context.Background(), nil, freeUser, 1, false)
	assert.True(t, types.IsCode(err, types.ErrCodeLimitAIUsage))
	assert.Equal(t, AIUsageLimit, usage.counts[freeUser.AccountID])
}

func TestConsumeAIUsage_ConcurrentNeverExceedsLimit(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[freeUser.AccountID] = AIUsageLimit - 3
	svc := newTestService(&fakePlans{}, usage, &fakeSites{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ConsumeAIUsage(context.Background(), nil, freeUser, 1, false); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.Equal(t, AIUsageLimit, usage.counts[freeUser.AccountID])
}

func TestConsumeAIUsage_ProSkips(t *testing.T) {
	usage := newFakeUsage()
	plans := &fakePlans{unlimited: map[string]bool{proUser.ExternalID: true}}
	svc := newTestService(plans, usage, &fakeSites{})

	rec, err := svc.ConsumeAIUsage(context.Background(), nil, proUser, 1, true)
	require.NoError(t, err)
	assert.True(t, rec.Skipped)
	assert.Equal(t, 0, usage.accesses)
}

func TestConsumeAIUsage_NoPlanLookup(t *testing.T) {
	usage := newFakeUsage()
	plans := &fakePlans{}
	svc := newTestService(plans, usage, &fakeSites{})

	_, err := svc.ConsumeAIUsage(context.Background(), nil, freeUser, 1, false)
	require.NoError(t, err)
	_, err = svc.ConsumeAIUsage(context.Background(), nil, proUser, 1, true)
	require.NoError(t, err)
	assert.Zero(t, plans.calls, "the charge must not consult the plan provider")
}

func TestConsumeAIUsage_RejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(&fakePlans{}, newFakeUsage(), &fakeSites{})

	_, err := svc.ConsumeAIUsage(context.Background(), nil, freeUser, 0, false)
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidAmount))
}

func TestResetAIUsage(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[freeUser.AccountID] = 7
	now := time.Date(2026, 5, 17, 9, 30, 0, 0, time.UTC)
	svc := newTestService(&fakePlans{}, usage, &fakeSites{}, WithClock(fixedClock{now}))

	require.NoError(t, svc.ResetAIUsage(context.Background(), freeUser))
	assert.Equal(t, 0, usage.counts[freeUser.AccountID])
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), usage.periods[freeUser.AccountID])
}

func TestUserStatus(t *testing.T) {
	usage := newFakeUsage()
	usage.counts[freeUser.AccountID] = 4
	usage.counts[proUser.AccountID] = 40
	sites := &fakeSites{counts: map[int64]int{freeUser.AccountID: 2, proUser.AccountID: 9}}
	svc := newTestService(&fakePlans{unlimited: map[string]bool{proUser.ExternalID: true}}, usage, sites)

	st, err := svc.UserStatus(context.Background(), freeUser)
	require.NoError(t, err)
	assert.Equal(t, &Status{
		Status:         types.PlanStatusFree,
		AIUsage:        4,
		AIUsageLimit:   10,
		PortfolioCount: 2,
		PortfolioLimit: 5,
	}, st)

	st, err = svc.UserStatus(context.Background(), proUser)
	require.NoError(t, err)
	assert.True(t, st.IsPro)
	assert.Equal(t, types.PlanStatusPro, st.Status)
	assert.Equal(t, 0, st.AIUsage)
	assert.Equal(t, 9, st.PortfolioCount)
}
