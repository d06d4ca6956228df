package unidata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/capitan"
	"go.uber.org/zap"
)

// State is the provider's initialization state.
type State int32

// Provider states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// handshakeRetries bounds the backoff attempts inside one Init call.
// A Failed provider never retries on its own; RetryInit is the only way out.
const handshakeRetries = 2

// Default collection sets for the point-of-sale schema. Override with
// WithCollections / WithBusinessCollections.
var (
	defaultCollections = []string{
		"products", "categories", "orders", "order_items",
		"inventory_entries", "purchases", "purchase_items",
		"customers", "settings",
	}
	defaultBusiness = []string{
		"products", "categories", "orders", "order_items",
		"inventory_entries", "purchases", "purchase_items",
		"customers",
	}
)

// Provider is the single entry point used by all application code. It owns
// the initialization state machine, gates every operation on backend
// availability, and degrades unavailable or failed reads and generic writes
// to safe defaults instead of raising, so UI-layer callers never need
// backend-specific error handling.
//
// Construct one Provider per process and pass it to all services; the
// adapter is chosen at construction and never swapped.
type Provider struct {
	backend     Backend
	log         *zap.Logger
	collections []string
	business    []string
	seeds       map[string][]Record

	mu       sync.Mutex
	state    State
	inflight chan struct{} // closed when the in-flight handshake settles
	initErr  error
}

// New creates a Provider over the given backend.
func New(backend Backend, opts ...Option) *Provider {
	p := &Provider{
		backend:     backend,
		log:         zap.NewNop(),
		collections: defaultCollections,
		business:    defaultBusiness,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current initialization state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Available reports whether the provider is Ready.
func (p *Provider) Available() bool {
	return p.State() == StateReady
}

// Init performs the backend handshake if the provider is Uninitialized.
// It is safe to call concurrently: a single in-flight handshake is shared by
// all callers, and every caller observes the same terminal state. Once
// Failed, Init returns the stored error without retrying; RetryInit is the
// only way to re-attempt, preventing retry storms from call sites that
// invoke Init on every operation.
func (p *Provider) Init(ctx context.Context) error {
	return p.init(ctx, false)
}

// RetryInit re-attempts the backend handshake from the Failed state.
func (p *Provider) RetryInit(ctx context.Context) error {
	return p.init(ctx, true)
}

func (p *Provider) init(ctx context.Context, force bool) error {
	for {
		p.mu.Lock()
		switch p.state {
		case StateReady:
			p.mu.Unlock()
			return nil

		case StateFailed:
			if !force {
				err := p.initErr
				p.mu.Unlock()
				p.log.Debug("init skipped, explicit retry required", zap.Error(err))
				return err
			}

		case StateInitializing:
			ch := p.inflight
			p.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			force = false
			continue
		}

		// Uninitialized, or Failed with an explicit retry.
		p.state = StateInitializing
		ch := make(chan struct{})
		p.inflight = ch
		p.mu.Unlock()

		capitan.Emit(ctx, InitStarted)
		start := time.Now()
		err := p.handshake(ctx)

		p.mu.Lock()
		if err != nil {
			p.state = StateFailed
			p.initErr = fmt.Errorf("%w: %w", ErrInitFailed, err)
			capitan.Emit(ctx, InitFailed,
				FieldError.Field(err),
				FieldDuration.Field(time.Since(start)),
			)
			p.log.Error("backend handshake failed", zap.Error(err))
		} else {
			p.state = StateReady
			p.initErr = nil
			capitan.Emit(ctx, InitCompleted,
				FieldDuration.Field(time.Since(start)),
			)
			p.log.Info("backend ready")
		}
		close(ch)
		res := p.initErr
		p.mu.Unlock()
		return res
	}
}

// handshake connects and health-checks the backend with bounded retries.
func (p *Provider) handshake(ctx context.Context) error {
	lc, ok := p.backend.(Lifecycle)
	if !ok {
		return nil
	}
	op := func() error {
		if err := lc.Connect(ctx); err != nil {
			return err
		}
		return lc.Health(ctx)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), handshakeRetries), ctx)
	return backoff.Retry(op, bo)
}

// Close releases the backend connection and returns the provider to the
// Uninitialized state.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	p.state = StateUninitialized
	p.initErr = nil
	p.mu.Unlock()

	if lc, ok := p.backend.(Lifecycle); ok {
		return lc.Close(ctx)
	}
	return nil
}

// ready initializes on first use and reports availability. A caller arriving
// while another's handshake is in flight waits for that shared attempt
// rather than failing fast.
func (p *Provider) ready(ctx context.Context) bool {
	if st := p.State(); st == StateUninitialized || st == StateInitializing {
		_ = p.init(ctx, false)
	}
	return p.Available()
}

// Query returns records matching q, or an empty slice when the backend is
// unavailable or the read fails. Read errors never escape this boundary;
// they are logged and emitted as QuerySwallowed.
func (p *Provider) Query(ctx context.Context, collection string, q Query) []Record {
	if !p.ready(ctx) {
		return []Record{}
	}
	start := time.Now()
	records, err := p.backend.Query(ctx, collection, q)
	if err != nil {
		capitan.Emit(ctx, QuerySwallowed,
			FieldCollection.Field(collection),
			FieldError.Field(err),
			FieldDuration.Field(time.Since(start)),
		)
		p.log.Warn("query failed, returning empty result",
			zap.String("collection", collection), zap.Error(err))
		return []Record{}
	}
	capitan.Emit(ctx, QueryCompleted,
		FieldCollection.Field(collection),
		FieldCount.Field(int64(len(records))),
		FieldDuration.Field(time.Since(start)),
	)
	if records == nil {
		records = []Record{}
	}
	return records
}

// Get fetches one record by its native identifier, or nil when the backend
// is unavailable, the record is absent, or the read fails.
func (p *Provider) Get(ctx context.Context, collection string, id any) Record {
	if !p.ready(ctx) {
		return nil
	}
	record, err := p.backend.Get(ctx, collection, id)
	if err != nil {
		p.log.Debug("get failed",
			zap.String("collection", collection), zap.Error(err))
		return nil
	}
	return record
}

// Count returns the number of matching records, or 0 when the backend is
// unavailable or the read fails.
func (p *Provider) Count(ctx context.Context, collection string, where string, args ...any) int64 {
	if !p.ready(ctx) {
		return 0
	}
	n, err := p.backend.Count(ctx, collection, where, args...)
	if err != nil {
		p.log.Warn("count failed, returning zero",
			zap.String("collection", collection), zap.Error(err))
		return 0
	}
	return n
}

// Insert writes a new record and returns its backend-native identifier, or
// nil when the backend is unavailable or the write fails. Callers enforcing
// business invariants should use Transaction, which propagates errors.
func (p *Provider) Insert(ctx context.Context, collection string, fields Record) any {
	return p.insert(ctx, collection, fields, "")
}

// InsertWithID writes a new record under an explicit document key. Only
// meaningful on backends with string keys; the relational adapter assigns
// row IDs itself.
func (p *Provider) InsertWithID(ctx context.Context, collection string, fields Record, id string) any {
	return p.insert(ctx, collection, fields, id)
}

func (p *Provider) insert(ctx context.Context, collection string, fields Record, explicitID string) any {
	if !p.ready(ctx) {
		return nil
	}
	start := time.Now()
	id, err := p.backend.Insert(ctx, collection, fields, explicitID)
	if err != nil {
		p.swallowWrite(ctx, "insert", collection, err, start)
		return nil
	}
	p.completeWrite(ctx, "insert", collection, 1, start)
	return id
}

// Update applies u.Fields to every matched record and returns the affected
// count, or 0 when the backend is unavailable or the write fails.
func (p *Provider) Update(ctx context.Context, collection string, u Update) int64 {
	if !p.ready(ctx) {
		return 0
	}
	start := time.Now()
	n, err := p.backend.Update(ctx, collection, u)
	if err != nil {
		p.swallowWrite(ctx, "update", collection, err, start)
		return 0
	}
	p.completeWrite(ctx, "update", collection, n, start)
	return n
}

// Delete removes every matched record and returns the affected count, or 0
// when the backend is unavailable or the write fails.
func (p *Provider) Delete(ctx context.Context, collection string, where string, args ...any) int64 {
	if !p.ready(ctx) {
		return 0
	}
	start := time.Now()
	n, err := p.backend.Delete(ctx, collection, where, args...)
	if err != nil {
		p.swallowWrite(ctx, "delete", collection, err, start)
		return 0
	}
	p.completeWrite(ctx, "delete", collection, n, start)
	return n
}

// Transaction runs fn against the active adapter. Unlike the generic CRUD
// entry points, errors propagate: multi-step writes enforcing business
// invariants (stock sufficiency, order totals) must be able to abort instead
// of silently half-applying. Returns ErrUnavailable without invoking the
// adapter when the backend is not Ready.
func (p *Provider) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if !p.ready(ctx) {
		return ErrUnavailable
	}
	return p.backend.Transaction(ctx, fn)
}

// ResetDatabase removes every record from every known collection. On the
// document adapter each collection is cleared in bounded delete batches.
// Destructive; errors propagate.
func (p *Provider) ResetDatabase(ctx context.Context) error {
	if !p.ready(ctx) {
		return ErrUnavailable
	}
	var total int64
	for _, collection := range p.collections {
		n, err := p.backend.Clear(ctx, collection)
		if err != nil {
			return fmt.Errorf("clearing %s: %w", collection, err)
		}
		total += n
	}
	capitan.Emit(ctx, ResetCompleted, FieldCount.Field(total))
	p.log.Info("database reset", zap.Int64("removed", total))
	return nil
}

// ClearBusinessData removes every record from the business collections,
// leaving settings intact, and optionally re-inserts the configured seed
// records. Destructive; errors propagate.
func (p *Provider) ClearBusinessData(ctx context.Context, seedDefaults bool) error {
	if !p.ready(ctx) {
		return ErrUnavailable
	}
	var total int64
	for _, collection := range p.business {
		n, err := p.backend.Clear(ctx, collection)
		if err != nil {
			return fmt.Errorf("clearing %s: %w", collection, err)
		}
		total += n
	}
	if seedDefaults {
		for collection, records := range p.seeds {
			for _, fields := range records {
				if _, err := p.backend.Insert(ctx, collection, fields, ""); err != nil {
					return fmt.Errorf("seeding %s: %w", collection, err)
				}
			}
		}
	}
	capitan.Emit(ctx, ResetCompleted, FieldCount.Field(total))
	p.log.Info("business data cleared",
		zap.Int64("removed", total), zap.Bool("seeded", seedDefaults))
	return nil
}

func (p *Provider) swallowWrite(ctx context.Context, op, collection string, err error, start time.Time) {
	capitan.Emit(ctx, WriteSwallowed,
		FieldOperation.Field(op),
		FieldCollection.Field(collection),
		FieldError.Field(err),
		FieldDuration.Field(time.Since(start)),
	)
	p.log.Warn("write failed, returning zero result",
		zap.String("operation", op),
		zap.String("collection", collection),
		zap.Error(err))
}

func (p *Provider) completeWrite(ctx context.Context, op, collection string, n int64, start time.Time) {
	capitan.Emit(ctx, WriteCompleted,
		FieldOperation.Field(op),
		FieldCollection.Field(collection),
		FieldCount.Field(n),
		FieldDuration.Field(time.Since(start)),
	)
}
