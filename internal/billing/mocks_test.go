package billing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"viberesume/internal/db"
	"viberesume/internal/types"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakePlans answers IsUnlimited from a set and counts calls.
type fakePlans struct {
	mu        sync.Mutex
	unlimited map[string]bool
	err       error
	calls     int
}

func (f *fakePlans) IsUnlimited(_ context.Context, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.unlimited[externalID], nil
}

// fakeUsage is an in-memory counter store with get-or-create semantics.
type fakeUsage struct {
	mu       sync.Mutex
	counts   map[int64]int
	periods  map[int64]time.Time
	accesses int
	err      error
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{counts: map[int64]int{}, periods: map[int64]time.Time{}}
}

func (f *fakeUsage) GetOrCreate(_ context.Context, p types.Principal) (*types.UsageCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accesses++
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.counts[p.AccountID]; !ok {
		f.counts[p.AccountID] = 0
	}
	return &types.UsageCounter{UserID: p.AccountID, ExternalID: p.ExternalID, Count: f.counts[p.AccountID]}, nil
}

func (f *fakeUsage) Increment(_ context.Context, p types.Principal, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accesses++
	if f.err != nil {
		return 0, f.err
	}
	f.counts[p.AccountID] += amount
	return f.counts[p.AccountID], nil
}

func (f *fakeUsage) IncrementIfBelow(_ context.Context, p types.Principal, amount, limit int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accesses++
	if f.err != nil {
		return 0, false, f.err
	}
	if f.counts[p.AccountID]+amount > limit {
		return 0, false, nil
	}
	f.counts[p.AccountID] += amount
	return f.counts[p.AccountID], true, nil
}

func (f *fakeUsage) Reset(_ context.Context, accountID int64, periodStart time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.counts[accountID] = 0
	f.periods[accountID] = periodStart
	return nil
}

func (f *fakeUsage) has(accountID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.counts[accountID]
	return ok
}

type fakeSites struct {
	counts map[int64]int
	err    error
}

func (f *fakeSites) CountByUser(_ context.Context, userID int64) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[userID], nil
}

type recordedDecision struct {
	kind    string
	blocked bool
}

type fakeRecorder struct {
	mu        sync.Mutex
	decisions []recordedDecision
}

func (f *fakeRecorder) RecordGateDecision(kind string, blocked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, recordedDecision{kind, blocked})
}

// newTestService wires a Service whose transaction-bound counter is the
// same in-memory usage store.
func newTestService(plans *fakePlans, usage *fakeUsage, sites *fakeSites, opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{
		WithTxUsage(func(db.DBTX) ConditionalIncrementer { return usage }),
	}, opts...)
	return NewService(plans, usage, sites, discardLogger, opts...)
}

type fakeIdentity struct {
	info  *types.AccountInfo
	err   error
	calls int
}

func (f *fakeIdentity) GetAccountInfo(_ context.Context, externalID string) (*types.AccountInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	info.ExternalID = externalID
	return &info, nil
}

type fakePlanChecker struct {
	has    bool
	err    error
	calls  int
	lastID string
}

func (f *fakePlanChecker) HasPlan(_ context.Context, _ string, planID string) (bool, error) {
	f.calls++
	f.lastID = planID
	return f.has, f.err
}
