package firestore

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/tillworks/unidata"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// newOfflineBackend builds a backend over a client that never dials.
// grpc.NewClient connects lazily, so query construction works without a
// server; the injected runner keeps execution off the wire entirely.
func newOfflineBackend(t *testing.T) *Backend {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///offline",
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	client, err := firestore.NewClient(context.Background(), "offline", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestQuery_IndexFallbackSortsInMemory(t *testing.T) {
	b := newOfflineBackend(t)

	unsorted := []unidata.Record{
		{"id": "a", "total": 1.0},
		{"id": "c", "total": 3.0},
		{"id": "b", "total": 2.0},
	}
	var calls int64
	b.run = func(_ context.Context, _ firestore.Query) ([]unidata.Record, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, status.Error(codes.FailedPrecondition, "query requires a composite index")
		}
		return unsorted, nil
	}

	got, err := b.Query(context.Background(), "orders", unidata.Query{
		Where:   "status = ?",
		Args:    []any{"open"},
		OrderBy: "total DESC",
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if calls != 2 {
		t.Fatalf("runner calls: got %d, want 2 (ordered attempt then unordered rerun)", calls)
	}
	if len(got) != 2 || got[0]["id"] != "c" || got[1]["id"] != "b" {
		t.Errorf("fallback result: got %v, want [c b]", got)
	}
}

func TestQuery_IndexFallbackAppliesOffset(t *testing.T) {
	b := newOfflineBackend(t)
	b.run = func(_ context.Context, _ firestore.Query) ([]unidata.Record, error) {
		return []unidata.Record{
			{"id": "a", "total": 1.0},
			{"id": "c", "total": 3.0},
			{"id": "b", "total": 2.0},
		}, nil
	}
	failed := false
	inner := b.run
	b.run = func(ctx context.Context, fq firestore.Query) ([]unidata.Record, error) {
		if !failed {
			failed = true
			return nil, status.Error(codes.FailedPrecondition, "missing index")
		}
		return inner(ctx, fq)
	}

	got, err := b.Query(context.Background(), "orders", unidata.Query{
		OrderBy: "total",
		Offset:  1,
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "b" {
		t.Errorf("offset after in-memory sort: got %v, want [b]", got)
	}
}

func TestQuery_IndexFailureWithoutOrder(t *testing.T) {
	b := newOfflineBackend(t)

	var calls int64
	b.run = func(_ context.Context, _ firestore.Query) ([]unidata.Record, error) {
		atomic.AddInt64(&calls, 1)
		return nil, status.Error(codes.FailedPrecondition, "missing index")
	}

	_, err := b.Query(context.Background(), "orders", unidata.Query{
		Where: "status = ? AND total > ?",
		Args:  []any{"open", 10},
	})
	if !errors.Is(err, unidata.ErrIndexPrecondition) {
		t.Fatalf("got %v, want ErrIndexPrecondition", err)
	}
	if calls != 1 {
		t.Errorf("runner calls: got %d, want 1 (no unordered rerun to fall back to)", calls)
	}
}

func TestQuery_NonIndexErrorPropagates(t *testing.T) {
	b := newOfflineBackend(t)

	boom := status.Error(codes.Unavailable, "backend down")
	var calls int64
	b.run = func(_ context.Context, _ firestore.Query) ([]unidata.Record, error) {
		atomic.AddInt64(&calls, 1)
		return nil, boom
	}

	_, err := b.Query(context.Background(), "orders", unidata.Query{OrderBy: "total"})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the runner error", err)
	}
	if errors.Is(err, unidata.ErrIndexPrecondition) {
		t.Error("non-precondition error must not carry the index sentinel")
	}
	if calls != 1 {
		t.Errorf("runner calls: got %d, want 1 (no fallback for non-index errors)", calls)
	}
}

func membershipWhere(n int) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
	args := make([]any, n)
	for i := range args {
		args[i] = i
	}
	return "total IN (" + placeholders + ")", args
}

func TestQuery_MembershipChunkFailure(t *testing.T) {
	b := newOfflineBackend(t)

	boom := errors.New("chunk fetch failed")
	var calls int64
	b.run = func(_ context.Context, _ firestore.Query) ([]unidata.Record, error) {
		if atomic.AddInt64(&calls, 1) == 2 {
			return nil, boom
		}
		return []unidata.Record{{"id": "a", "total": 1.0}}, nil
	}

	where, args := membershipWhere(25)
	got, err := b.Query(context.Background(), "orders", unidata.Query{Where: where, Args: args})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the chunk error", err)
	}
	if got != nil {
		t.Errorf("failed membership query must not return a partial merge, got %v", got)
	}
}

func TestQuery_MembershipMergesChunks(t *testing.T) {
	b := newOfflineBackend(t)

	// Three chunks; "b" overlaps two of them and must survive once.
	sets := [][]unidata.Record{
		{{"id": "a", "total": 1.0}, {"id": "b", "total": 2.0}},
		{{"id": "b", "total": 2.0}, {"id": "c", "total": 3.0}},
		{{"id": "d", "total": 4.0}},
	}
	var calls int64
	b.run = func(_ context.Context, _ firestore.Query) ([]unidata.Record, error) {
		n := atomic.AddInt64(&calls, 1)
		return sets[n-1], nil
	}

	where, args := membershipWhere(25)
	got, err := b.Query(context.Background(), "orders", unidata.Query{
		Where:   where,
		Args:    args,
		OrderBy: "total DESC",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("merged records: got %d, want 4", len(got))
	}
	for i, want := range []string{"d", "c", "b", "a"} {
		if got[i]["id"] != want {
			t.Errorf("record %d: got %v, want %s", i, got[i]["id"], want)
		}
	}
}
