package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/block"
	"lamden-indexer/internal/config"
	"lamden-indexer/internal/errs"
	"lamden-indexer/internal/fetch"
	"lamden-indexer/internal/notify"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

// memCursors is an in-memory CursorBackend for driving config.Cursors in
// tests without a real store.
type memCursors struct{ kv map[string]string }

func newMemCursors() *memCursors { return &memCursors{kv: map[string]string{}} }

func (m *memCursors) CursorGet(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *memCursors) CursorSet(ctx context.Context, key, value string) error {
	m.kv[key] = value
	return nil
}

// chainFetcher serves a fixed backward chain of blocks keyed by number.
type chainFetcher struct {
	chain map[int64]*block.Block
}

func (c *chainFetcher) Get(ctx context.Context, id interface{}, consultStore bool) (*fetch.Result, error) {
	switch v := id.(type) {
	case int64:
		if b, ok := c.chain[v]; ok {
			return &fetch.Result{Block: b}, nil
		}
	case string:
		for _, b := range c.chain {
			if b.Hash == v {
				return &fetch.Result{Block: b}, nil
			}
		}
	}
	return nil, errNotFound
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "block not found" }

type recordingWriter struct{ processed []int64 }

func (w *recordingWriter) Process(ctx context.Context, b *block.Block, origin string) error {
	w.processed = append(w.processed, b.Number)
	return nil
}

type noopGenesis struct{ ran bool }

func (g *noopGenesis) Run(ctx context.Context) error {
	g.ran = true
	return nil
}

func buildChain(from, to int64) map[int64]*block.Block {
	chain := make(map[int64]*block.Block, from-to+1)
	for n := from; n >= to; n-- {
		prev := ""
		if n > to {
			prev = itoa(n - 1)
		}
		chain[n] = &block.Block{Number: n, Hash: itoa(n), Previous: prev, HLCTimestamp: "t"}
	}
	return chain
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestTickWalksBackToSyncEnd verifies a full walk from sync_start down to
// sync_end processes every intervening block and converges the cursors
// (property: cursor convergence).
func TestTickWalksBackToSyncEnd(t *testing.T) {
	store := newMemCursors()
	cfgCursors := config.NewCursors(store)

	if err := cfgCursors.SetBlockLatest(context.Background(), 10); err != nil {
		t.Fatalf("set block_latest: %v", err)
	}
	if err := cfgCursors.SetSyncEnd(context.Background(), 5); err != nil {
		t.Fatalf("set sync_end: %v", err)
	}

	writer := &recordingWriter{}
	fetcher := &chainFetcher{chain: buildChain(10, 5)}
	driver := New(cfgCursors, fetcher, writer, &noopGenesis{}, notify.Noop{}, testLogger())

	if err := driver.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	end, err := cfgCursors.SyncEnd(context.Background())
	if err != nil {
		t.Fatalf("read sync_end: %v", err)
	}
	if end != 10 {
		t.Fatalf("sync_end = %d, want 10 (converged to the walk's starting point)", end)
	}
	if _, ok, _ := cfgCursors.SyncStart(context.Background()); ok {
		t.Fatalf("sync_start should be cleared after a completed walk")
	}
	if len(writer.processed) != 6 {
		t.Fatalf("processed %d blocks, want 6 (10 down to 5 inclusive)", len(writer.processed))
	}
}

// TestTickAlreadySynchronizedIsNoop verifies sync_start == sync_end short
// circuits the walk.
func TestTickAlreadySynchronizedIsNoop(t *testing.T) {
	store := newMemCursors()
	cfgCursors := config.NewCursors(store)
	if err := cfgCursors.SetBlockLatest(context.Background(), 5); err != nil {
		t.Fatalf("set block_latest: %v", err)
	}
	if err := cfgCursors.SetSyncEnd(context.Background(), 5); err != nil {
		t.Fatalf("set sync_end: %v", err)
	}

	writer := &recordingWriter{}
	driver := New(cfgCursors, &chainFetcher{chain: map[int64]*block.Block{}}, writer, &noopGenesis{}, notify.Noop{}, testLogger())

	if err := driver.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if len(writer.processed) != 0 {
		t.Fatalf("expected no blocks processed when already synchronized")
	}
}

// TestTickDetectsCursorCorruption verifies sync_start < sync_end resets
// both cursors and reports errs.ErrCursorCorruption, per the self-heal
// scenario.
func TestTickDetectsCursorCorruption(t *testing.T) {
	store := newMemCursors()
	cfgCursors := config.NewCursors(store)
	if err := cfgCursors.SetSyncStart(context.Background(), 3); err != nil {
		t.Fatalf("set sync_start: %v", err)
	}
	if err := cfgCursors.SetSyncEnd(context.Background(), 10); err != nil {
		t.Fatalf("set sync_end: %v", err)
	}

	notifier := &recordingNotifier{}
	driver := New(cfgCursors, &chainFetcher{chain: map[int64]*block.Block{}}, &recordingWriter{}, &noopGenesis{}, notifier, testLogger())

	err := driver.Tick(context.Background())
	if !errors.Is(err, errs.ErrCursorCorruption) {
		t.Fatalf("expected ErrCursorCorruption, got %v", err)
	}
	if len(notifier.messages) == 0 {
		t.Fatalf("expected the operator to be notified of cursor corruption")
	}

	end, _ := cfgCursors.SyncEnd(context.Background())
	if end != 0 {
		t.Fatalf("sync_end = %d, want reset to 0", end)
	}
	if _, ok, _ := cfgCursors.SyncStart(context.Background()); ok {
		t.Fatalf("sync_start should be cleared after corruption reset")
	}
}

func TestEnsureGenesisRunsOnlyOnce(t *testing.T) {
	store := newMemCursors()
	cfgCursors := config.NewCursors(store)
	genesis := &noopGenesis{}
	driver := New(cfgCursors, &chainFetcher{chain: map[int64]*block.Block{}}, &recordingWriter{}, genesis, notify.Noop{}, testLogger())

	if err := driver.EnsureGenesis(context.Background()); err != nil {
		t.Fatalf("first EnsureGenesis: %v", err)
	}
	if !genesis.ran {
		t.Fatalf("expected genesis bootstrap to run the first time")
	}

	genesis.ran = false
	if err := driver.EnsureGenesis(context.Background()); err != nil {
		t.Fatalf("second EnsureGenesis: %v", err)
	}
	if genesis.ran {
		t.Fatalf("expected genesis bootstrap to be gated by genesis_processed on the second call")
	}
}

type recordingNotifier struct{ messages []string }

func (r *recordingNotifier) Send(msg string) { r.messages = append(r.messages, msg) }

