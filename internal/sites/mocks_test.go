package sites

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"viberesume/internal/billing"
	"viberesume/internal/db"
	"viberesume/internal/types"

	"github.com/jackc/pgx/v5"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// fakeTx defers writes until Commit, so a rolled-back transaction leaves
// the in-memory stores untouched.
type fakeTx struct {
	pgx.Tx
	onCommit   []func()
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	for _, fn := range t.onCommit {
		fn()
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	txs []*fakeTx
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

// memSites is an in-memory sites table with a unique slug index.
type memSites struct {
	mu     sync.Mutex
	rows   map[int64]*types.Site
	nextID int64
	now    time.Time
}

func newMemSites() *memSites {
	return &memSites{rows: map[int64]*types.Site{}, nextID: 1, now: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memSites) seed(userID int64, slug string) *types.Site {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &types.Site{ID: m.nextID, UserID: userID, Slug: slug, Title: "Seed", Content: "<html></html>", CreatedAt: m.now, UpdatedAt: m.now}
	m.rows[s.ID] = s
	m.nextID++
	m.now = m.now.Add(time.Minute)
	return s
}

func (m *memSites) slugTaken(slug string, exceptID int64) bool {
	for _, s := range m.rows {
		if s.Slug == slug && s.ID != exceptID {
			return true
		}
	}
	return false
}

func notFound() error {
	return types.NewAppError(types.ErrCodeNotFoundSite, "Website not found", nil)
}

func (m *memSites) GetByID(_ context.Context, id, userID int64) (*types.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.UserID != userID {
		return nil, notFound()
	}
	cp := *s
	return &cp, nil
}

func (m *memSites) GetBySlug(_ context.Context, slug string) (*types.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.Slug == slug {
			cp := *s
			return &cp, nil
		}
	}
	return nil, notFound()
}

func (m *memSites) ListByUser(_ context.Context, userID int64) ([]types.SiteSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []types.SiteSummary{}
	for _, s := range m.rows {
		if s.UserID == userID {
			out = append(out, types.SiteSummary{ID: s.ID, Slug: s.Slug, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memSites) UpdateSlug(_ context.Context, id, userID int64, slug string) (*types.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.UserID != userID {
		return nil, notFound()
	}
	if m.slugTaken(slug, id) {
		return nil, types.NewAppError(types.ErrCodeConflictSlugTaken, "This slug is already taken", nil)
	}
	s.Slug = slug
	cp := *s
	return &cp, nil
}

func (m *memSites) Delete(_ context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.UserID != userID {
		return notFound()
	}
	delete(m.rows, id)
	return nil
}

func (m *memSites) count(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.rows {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// txSites stages writes on the transaction.
type txSites struct {
	base *memSites
	tx   *fakeTx
}

func (t txSites) CountByUser(_ context.Context, userID int64) (int, error) {
	return t.base.count(userID), nil
}

func (t txSites) Create(_ context.Context, site *types.Site) error {
	t.base.mu.Lock()
	defer t.base.mu.Unlock()
	if t.base.slugTaken(site.Slug, 0) {
		return types.NewAppError(types.ErrCodeConflictSlugTaken, "This slug is already taken", nil)
	}
	site.ID = t.base.nextID
	t.base.nextID++
	site.CreatedAt, site.UpdatedAt = t.base.now, t.base.now
	row := *site
	t.tx.onCommit = append(t.tx.onCommit, func() {
		t.base.mu.Lock()
		defer t.base.mu.Unlock()
		t.base.rows[row.ID] = &row
	})
	return nil
}

func (t txSites) UpdateContent(_ context.Context, id, userID int64, title, content string) (*types.Site, error) {
	t.base.mu.Lock()
	defer t.base.mu.Unlock()
	s, ok := t.base.rows[id]
	if !ok || s.UserID != userID {
		return nil, notFound()
	}
	updated := *s
	updated.Title, updated.Content = title, content
	t.tx.onCommit = append(t.tx.onCommit, func() {
		t.base.mu.Lock()
		defer t.base.mu.Unlock()
		cp := updated
		t.base.rows[id] = &cp
	})
	return &updated, nil
}

type noopLocker struct{ locked []int64 }

func (l *noopLocker) LockForUpdate(_ context.Context, accountID int64) error {
	l.locked = append(l.locked, accountID)
	return nil
}

// fakeEntitlements charges AI usage on commit, with the hard cap applied
// against committed usage plus what this transaction already staged.
type fakeEntitlements struct {
	decision    billing.GenerationDecision
	checkErr    error
	aiDecision  billing.Decision
	usage       int
	unlimited   bool
	planErr     error
	planCalls   int
	consumeErr  error
	checkCalls  int
	consumeCall int
}

func (f *fakeEntitlements) CheckGeneration(context.Context, types.Principal) (billing.GenerationDecision, error) {
	f.checkCalls++
	return f.decision, f.checkErr
}

func (f *fakeEntitlements) ShouldBlockAIUsage(context.Context, types.Principal) (billing.Decision, error) {
	f.checkCalls++
	return f.aiDecision, f.checkErr
}

func (f *fakeEntitlements) IsUnlimitedAccount(context.Context, types.Principal) (bool, error) {
	f.planCalls++
	return f.unlimited, f.planErr
}

func (f *fakeEntitlements) ConsumeAIUsage(_ context.Context, q db.DBTX, _ types.Principal, amount int, unlimited bool) (billing.UsageRecord, error) {
	f.consumeCall++
	if f.consumeErr != nil {
		return billing.UsageRecord{}, f.consumeErr
	}
	if unlimited {
		return billing.UsageRecord{Skipped: true}, nil
	}
	if f.usage+amount > billing.AIUsageLimit {
		return billing.UsageRecord{}, types.NewAppError(types.ErrCodeLimitAIUsage, "AI usage limit reached", nil)
	}
	tx := q.(*fakeTx)
	tx.onCommit = append(tx.onCommit, func() { f.usage += amount })
	return billing.UsageRecord{Count: f.usage + amount}, nil
}

type fakeGenerator struct {
	GenerateFunc func(ctx context.Context, pdf []byte) (string, error)
	EditFunc     func(ctx context.Context, html, instruction string) (string, error)
	calls        int
}

func (g *fakeGenerator) Generate(ctx context.Context, pdf []byte) (string, error) {
	g.calls++
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, pdf)
	}
	return "<!DOCTYPE html><html><head><title>Ada Lovelace - Portfolio</title></head><body></body></html>", nil
}

func (g *fakeGenerator) Edit(ctx context.Context, html, instruction string) (string, error) {
	g.calls++
	if g.EditFunc != nil {
		return g.EditFunc(ctx, html, instruction)
	}
	return "<html><head><title>Edited</title></head></html>", nil
}

type harness struct {
	svc      *Service
	sites    *memSites
	ent      *fakeEntitlements
	gen      *fakeGenerator
	beginner *fakeBeginner
	locker   *noopLocker
}

func newHarness() *harness {
	h := &harness{
		sites:    newMemSites(),
		ent:      &fakeEntitlements{},
		gen:      &fakeGenerator{},
		beginner: &fakeBeginner{},
		locker:   &noopLocker{},
	}
	h.svc = NewService(h.sites, h.beginner, h.gen, h.ent, Config{PublicBaseURL: "https://viberesume.app/"}, discardLogger)
	h.svc.txStores = func(q db.DBTX) (AccountLocker, TxSiteStore) {
		return h.locker, txSites{base: h.sites, tx: q.(*fakeTx)}
	}
	return h
}

// inOpenTx reports whether the most recent transaction has taken an
// account lock and has not yet finished.
func (h *harness) inOpenTx() bool {
	if len(h.beginner.txs) == 0 || len(h.locker.locked) == 0 {
		return false
	}
	tx := h.beginner.txs[len(h.beginner.txs)-1]
	return !tx.committed && !tx.rolledBack
}

// lockAwarePlans answers plan lookups and counts the ones made while the
// harness holds an account lock in an open transaction.
type lockAwarePlans struct {
	h             *harness
	unlimited     bool
	calls         int
	callsInOpenTx int
}

func (p *lockAwarePlans) IsUnlimited(context.Context, string) (bool, error) {
	p.calls++
	if p.h.inOpenTx() {
		p.callsInOpenTx++
	}
	return p.unlimited, nil
}

// memUsage is the AI usage counter table for a real billing.Service.
// Conditional increments made through a transaction land on commit.
type memUsage struct {
	mu     sync.Mutex
	counts map[int64]int
}

func (m *memUsage) GetOrCreate(_ context.Context, p types.Principal) (*types.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &types.UsageCounter{UserID: p.AccountID, ExternalID: p.ExternalID, Count: m.counts[p.AccountID]}, nil
}

func (m *memUsage) Increment(_ context.Context, p types.Principal, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[p.AccountID] += amount
	return m.counts[p.AccountID], nil
}

func (m *memUsage) Reset(_ context.Context, accountID int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[accountID] = 0
	return nil
}

type txUsage struct {
	base *memUsage
	tx   *fakeTx
}

func (t txUsage) IncrementIfBelow(_ context.Context, p types.Principal, amount, limit int) (int, bool, error) {
	t.base.mu.Lock()
	defer t.base.mu.Unlock()
	next := t.base.counts[p.AccountID] + amount
	if next > limit {
		return 0, false, nil
	}
	t.tx.onCommit = append(t.tx.onCommit, func() {
		t.base.mu.Lock()
		defer t.base.mu.Unlock()
		t.base.counts[p.AccountID] += amount
	})
	return next, true, nil
}

// newBillingHarness wires the lifecycle to a real billing.Service over the
// in-memory tables.
func newBillingHarness(unlimited bool) (*harness, *lockAwarePlans, *memUsage) {
	h := newHarness()
	plans := &lockAwarePlans{h: h, unlimited: unlimited}
	usage := &memUsage{counts: map[int64]int{}}
	ent := billing.NewService(plans, usage, txSites{base: h.sites}, discardLogger,
		billing.WithTxUsage(func(q db.DBTX) billing.ConditionalIncrementer {
			return txUsage{base: usage, tx: q.(*fakeTx)}
		}),
	)
	h.svc.entitlements = ent
	return h, plans, usage
}
