package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/config"
	"lamden-indexer/internal/errs"
	"lamden-indexer/internal/notify"
)

type nilStoreReader struct{}

func (nilStoreReader) BlockByNumber(ctx context.Context, number int64) ([]byte, error) { return nil, nil }
func (nilStoreReader) BlockByHash(ctx context.Context, hash string) ([]byte, error)     { return nil, nil }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

// TestGetFallsBackToSecondSource mirrors the catch-up scenario where the
// first configured source errors and the second one serves the block, with
// its configured pre-wait applied before the request.
func TestGetFallsBackToSecondSource(t *testing.T) {
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusOK)
	}))
	defer badSrv.Close()

	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number": 9, "hash": "h9", "previous": "h8", "hlc_timestamp": "t"}`))
	}))
	defer goodSrv.Close()

	sources := []config.Source{
		{Host: badSrv.URL + "/blocks/{block}", Wait: 0},
		{Host: goodSrv.URL + "/blocks/{block}", Wait: 0.01},
	}

	f := New(nilStoreReader{}, sources, t.TempDir(), notify.Noop{}, testLogger())

	start := time.Now()
	res, err := f.Get(context.Background(), int64(9), false)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if res.Block.Number != 9 {
		t.Fatalf("Number = %d, want 9", res.Block.Number)
	}
	if elapsed < 10*time.Millisecond {
		t.Fatalf("expected the second source's pre-wait to have elapsed, got %s", elapsed)
	}
}

// TestGetConsultsStoreFirst verifies a store hit short-circuits the network
// sources entirely.
func TestGetConsultsStoreFirst(t *testing.T) {
	hit := storeHit{raw: []byte(`{"number": 3, "hash": "h", "previous": "p", "hlc_timestamp": "t"}`)}
	f := New(hit, nil, t.TempDir(), notify.Noop{}, testLogger())

	res, err := f.Get(context.Background(), int64(3), true)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !res.FromStore {
		t.Fatalf("expected FromStore = true")
	}
	if res.Block.Number != 3 {
		t.Fatalf("Number = %d, want 3", res.Block.Number)
	}
}

type storeHit struct{ raw []byte }

func (s storeHit) BlockByNumber(ctx context.Context, number int64) ([]byte, error) { return s.raw, nil }
func (s storeHit) BlockByHash(ctx context.Context, hash string) ([]byte, error)     { return s.raw, nil }

// TestGetExhaustsAllSourcesNotifiesOperator verifies every source failing
// returns ErrNoSourceAvailable and notifies the operator.
func TestGetExhaustsAllSourcesNotifiesOperator(t *testing.T) {
	downSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	downSrv.Close() // closed immediately: every request is a network error

	sources := []config.Source{{Host: downSrv.URL + "/blocks/{block}", Wait: 0}}
	notifier := &recordingNotifier{}
	f := New(nilStoreReader{}, sources, t.TempDir(), notifier, testLogger())

	_, err := f.Get(context.Background(), int64(123), false)
	if !errors.Is(err, errs.ErrNoSourceAvailable) {
		t.Fatalf("expected ErrNoSourceAvailable when every source is unreachable, got %v", err)
	}
	if len(notifier.messages) == 0 {
		t.Fatalf("expected the operator to be notified of source exhaustion")
	}
}

type recordingNotifier struct{ messages []string }

func (r *recordingNotifier) Send(msg string) { r.messages = append(r.messages, msg) }
