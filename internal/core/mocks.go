package core

import (
	"context"
	"sync"
	"time"

	"viberesume/internal/ratelimit"
	"viberesume/internal/types"
)

// MockAuthenticator implements Authenticator for tests. ResolveTokenFunc
// takes precedence over Actor and Err.
//
//	mock := &MockAuthenticator{
//	    Actor: &types.Actor{ExternalID: "user_2abc", AccountID: 7, Type: types.ActorTypeUser},
//	}
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

// ResolveToken implements Authenticator.
func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockRateLimitStore implements ratelimit.Store for tests.
type MockRateLimitStore struct {
	Result    ratelimit.Result
	Err       error
	AllowFunc func(ctx context.Context, key string, limit int, now time.Time) (ratelimit.Result, error)

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of one Allow call.
type RateLimitCall struct {
	Key   string
	Limit int
}

// Allow implements ratelimit.Store.
func (m *MockRateLimitStore) Allow(ctx context.Context, key string, limit int, now time.Time) (ratelimit.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit})
	m.mu.Unlock()

	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, now)
	}
	return m.Result, m.Err
}

// MockMetrics records calls for assertion.
type MockMetrics struct {
	mu        sync.Mutex
	Requests  []RequestMetric
	Decisions []GateDecisionMetric
	Resets    []int64
}

// RequestMetric is one RecordRequest call.
type RequestMetric struct {
	Method, Endpoint, Status string
	Duration                 time.Duration
}

// GateDecisionMetric is one RecordGateDecision call.
type GateDecisionMetric struct {
	Kind    string
	Blocked bool
}

func (m *MockMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RequestMetric{method, endpoint, status, duration})
}

func (m *MockMetrics) RecordGateDecision(kind string, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Decisions = append(m.Decisions, GateDecisionMetric{kind, blocked})
}

func (m *MockMetrics) RecordUsageCountersReset(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets = append(m.Resets, count)
}

var (
	_ Authenticator    = (*MockAuthenticator)(nil)
	_ ratelimit.Store  = (*MockRateLimitStore)(nil)
	_ MetricsCollector = (*MockMetrics)(nil)
)
