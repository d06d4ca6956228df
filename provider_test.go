package unidata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// mockBackend implements Backend and Lifecycle for testing.
type mockBackend struct {
	mu         sync.Mutex
	records    map[string][]Record
	connectErr error
	healthErr  error
	queryErr   error
	insertErr  error
	updateErr  error
	deleteErr  error
	clearErr   error

	connects int32
	queries  int32
	inserts  int32
	updates  int32
	deletes  int32
	clears   int32
	txns     int32
}

func newMockBackend() *mockBackend {
	return &mockBackend{records: make(map[string][]Record)}
}

func (m *mockBackend) Query(_ context.Context, collection string, _ Query) ([]Record, error) {
	atomic.AddInt32(&m.queries, 1)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records[collection]...), nil
}

func (m *mockBackend) Get(_ context.Context, collection string, id any) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[collection] {
		if r[IDField] == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockBackend) Count(_ context.Context, collection string, _ string, _ ...any) (int64, error) {
	if m.queryErr != nil {
		return 0, m.queryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records[collection])), nil
}

func (m *mockBackend) Insert(_ context.Context, collection string, fields Record, explicitID string) (any, error) {
	atomic.AddInt32(&m.inserts, 1)
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	id := explicitID
	if id == "" {
		id = "generated"
	}
	stored := fields.Clone()
	stored[IDField] = id
	m.mu.Lock()
	m.records[collection] = append(m.records[collection], stored)
	m.mu.Unlock()
	return id, nil
}

func (m *mockBackend) Update(_ context.Context, _ string, _ Update) (int64, error) {
	atomic.AddInt32(&m.updates, 1)
	if m.updateErr != nil {
		return 0, m.updateErr
	}
	return 1, nil
}

func (m *mockBackend) Delete(_ context.Context, _ string, _ string, _ ...any) (int64, error) {
	atomic.AddInt32(&m.deletes, 1)
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return 1, nil
}

func (m *mockBackend) Transaction(_ context.Context, fn func(tx Tx) error) error {
	atomic.AddInt32(&m.txns, 1)
	return fn(&mockTx{m: m})
}

func (m *mockBackend) Clear(_ context.Context, collection string) (int64, error) {
	atomic.AddInt32(&m.clears, 1)
	if m.clearErr != nil {
		return 0, m.clearErr
	}
	m.mu.Lock()
	n := int64(len(m.records[collection]))
	delete(m.records, collection)
	m.mu.Unlock()
	return n, nil
}

func (m *mockBackend) Connect(_ context.Context) error {
	atomic.AddInt32(&m.connects, 1)
	return m.connectErr
}

func (m *mockBackend) Close(_ context.Context) error { return nil }

func (m *mockBackend) Health(_ context.Context) error { return m.healthErr }

type mockTx struct {
	m *mockBackend
}

func (t *mockTx) Query(ctx context.Context, collection string, q Query) ([]Record, error) {
	return t.m.Query(ctx, collection, q)
}

func (t *mockTx) Insert(ctx context.Context, collection string, fields Record) (any, error) {
	return t.m.Insert(ctx, collection, fields, "")
}

func (t *mockTx) Update(ctx context.Context, collection string, u Update) (int64, error) {
	return t.m.Update(ctx, collection, u)
}

func (t *mockTx) Delete(ctx context.Context, collection string, where string, args ...any) (int64, error) {
	return t.m.Delete(ctx, collection, where, args...)
}

func TestProvider_InitTransitionsToReady(t *testing.T) {
	p := New(newMockBackend())

	if p.State() != StateUninitialized {
		t.Fatalf("state: got %v, want uninitialized", p.State())
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.State() != StateReady || !p.Available() {
		t.Errorf("state: got %v, want ready", p.State())
	}
}

func TestProvider_InitFailureRequiresExplicitRetry(t *testing.T) {
	backend := newMockBackend()
	backend.connectErr = errors.New("connection refused")
	p := New(backend)

	if err := p.Init(context.Background()); !errors.Is(err, ErrInitFailed) {
		t.Fatalf("init error: got %v, want ErrInitFailed", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("state: got %v, want failed", p.State())
	}

	// A plain Init from Failed must not re-attempt the handshake.
	attempts := atomic.LoadInt32(&backend.connects)
	if err := p.Init(context.Background()); !errors.Is(err, ErrInitFailed) {
		t.Fatalf("second init: got %v, want stored ErrInitFailed", err)
	}
	if atomic.LoadInt32(&backend.connects) != attempts {
		t.Error("init from Failed re-attempted the handshake")
	}

	// RetryInit does, and recovers once the backend is reachable.
	backend.connectErr = nil
	if err := p.RetryInit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if p.State() != StateReady {
		t.Errorf("state after retry: got %v, want ready", p.State())
	}
}

func TestProvider_ConcurrentInitSingleHandshake(t *testing.T) {
	backend := newMockBackend()
	p := New(backend)

	const callers = 32
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Init(context.Background())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&backend.connects); n != 1 {
		t.Errorf("handshakes: got %d, want 1", n)
	}
	if p.State() != StateReady {
		t.Errorf("state: got %v, want ready", p.State())
	}
}

func TestProvider_FailedStateReturnsSafeDefaultsWithoutAdapterCalls(t *testing.T) {
	backend := newMockBackend()
	backend.connectErr = errors.New("unreachable")
	p := New(backend)
	_ = p.Init(context.Background())
	ctx := context.Background()

	if got := p.Query(ctx, "orders", Query{}); len(got) != 0 {
		t.Errorf("query: got %v, want empty", got)
	}
	if got := p.Get(ctx, "orders", "x"); got != nil {
		t.Errorf("get: got %v, want nil", got)
	}
	if got := p.Insert(ctx, "orders", Record{"total": 1}); got != nil {
		t.Errorf("insert: got %v, want nil", got)
	}
	if got := p.Update(ctx, "orders", Update{Fields: Record{"a": 1}}); got != 0 {
		t.Errorf("update: got %d, want 0", got)
	}
	if got := p.Delete(ctx, "orders", "id = ?", "x"); got != 0 {
		t.Errorf("delete: got %d, want 0", got)
	}
	if got := p.Count(ctx, "orders", ""); got != 0 {
		t.Errorf("count: got %d, want 0", got)
	}
	if err := p.Transaction(ctx, func(Tx) error { return nil }); !errors.Is(err, ErrUnavailable) {
		t.Errorf("transaction: got %v, want ErrUnavailable", err)
	}

	if atomic.LoadInt32(&backend.queries) != 0 ||
		atomic.LoadInt32(&backend.inserts) != 0 ||
		atomic.LoadInt32(&backend.updates) != 0 ||
		atomic.LoadInt32(&backend.deletes) != 0 ||
		atomic.LoadInt32(&backend.txns) != 0 {
		t.Error("adapter was invoked while Failed")
	}
}

func TestProvider_LazyInitOnFirstOperation(t *testing.T) {
	backend := newMockBackend()
	p := New(backend)

	p.Insert(context.Background(), "orders", Record{"total": 9})
	if p.State() != StateReady {
		t.Errorf("state: got %v, want ready after lazy init", p.State())
	}
	if n := atomic.LoadInt32(&backend.inserts); n != 1 {
		t.Errorf("inserts: got %d, want 1", n)
	}
}

func TestProvider_ReadErrorsSwallowed(t *testing.T) {
	backend := newMockBackend()
	backend.queryErr = errors.New("boom")
	p := New(backend)

	got := p.Query(context.Background(), "orders", Query{})
	if got == nil || len(got) != 0 {
		t.Errorf("query: got %v, want non-nil empty slice", got)
	}
}

func TestProvider_WriteErrorsSwallowedOnGenericPath(t *testing.T) {
	backend := newMockBackend()
	backend.insertErr = errors.New("boom")
	backend.updateErr = errors.New("boom")
	backend.deleteErr = errors.New("boom")
	p := New(backend)
	ctx := context.Background()

	if got := p.Insert(ctx, "orders", Record{"a": 1}); got != nil {
		t.Errorf("insert: got %v, want nil", got)
	}
	if got := p.Update(ctx, "orders", Update{Fields: Record{"a": 1}}); got != 0 {
		t.Errorf("update: got %d, want 0", got)
	}
	if got := p.Delete(ctx, "orders", "a = ?", 1); got != 0 {
		t.Errorf("delete: got %d, want 0", got)
	}
}

func TestProvider_TransactionErrorsPropagate(t *testing.T) {
	p := New(newMockBackend())
	want := errors.New("insufficient stock")

	err := p.Transaction(context.Background(), func(Tx) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("transaction: got %v, want propagated business error", err)
	}
}

func TestProvider_InsertWithID(t *testing.T) {
	backend := newMockBackend()
	p := New(backend)

	id := p.InsertWithID(context.Background(), "settings", Record{"currency": "EUR"}, "default")
	if id != "default" {
		t.Errorf("id: got %v, want default", id)
	}
}

func TestProvider_ResetDatabaseClearsAllCollections(t *testing.T) {
	backend := newMockBackend()
	p := New(backend, WithCollections("orders", "products", "settings"))
	ctx := context.Background()

	p.Insert(ctx, "orders", Record{"total": 1})
	if err := p.ResetDatabase(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n := atomic.LoadInt32(&backend.clears); n != 3 {
		t.Errorf("clears: got %d, want 3", n)
	}
}

func TestProvider_ClearBusinessDataSeedsDefaults(t *testing.T) {
	backend := newMockBackend()
	p := New(backend,
		WithBusinessCollections("orders", "products"),
		WithSeedData(map[string][]Record{
			"categories": {{"name": "General"}},
		}),
	)
	ctx := context.Background()

	if err := p.ClearBusinessData(ctx, true); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := atomic.LoadInt32(&backend.clears); n != 2 {
		t.Errorf("clears: got %d, want 2", n)
	}
	if got := backend.records["categories"]; len(got) != 1 || got[0]["name"] != "General" {
		t.Errorf("seeds: got %v, want one General category", got)
	}
}

func TestProvider_ClearBusinessDataErrorPropagates(t *testing.T) {
	backend := newMockBackend()
	backend.clearErr = errors.New("boom")
	p := New(backend)

	if err := p.ClearBusinessData(context.Background(), false); err == nil {
		t.Error("expected clear error to propagate")
	}
}

func TestProvider_CloseReturnsToUninitialized(t *testing.T) {
	p := New(newMockBackend())
	ctx := context.Background()

	_ = p.Init(ctx)
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if p.State() != StateUninitialized {
		t.Errorf("state: got %v, want uninitialized", p.State())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateReady:         "ready",
		StateFailed:        "failed",
		State(99):          "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d: got %s, want %s", state, got, want)
		}
	}
}
