package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/block"
)

// fakeBackend is an in-memory stand-in for the store, tracking just enough
// state to exercise the monotonic-state and address-monotonicity rules.
type fakeBackend struct {
	blocks       map[int64][]byte
	transactions map[string][]byte
	rewards      []string
	stateBlock   map[string]int64
	stateValue   map[string]json.RawMessage
	addrBlock    map[string]int64
	contracts    map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		blocks:       map[int64][]byte{},
		transactions: map[string][]byte{},
		stateBlock:   map[string]int64{},
		stateValue:   map[string]json.RawMessage{},
		addrBlock:    map[string]int64{},
		contracts:    map[string]string{},
	}
}

func (f *fakeBackend) UpsertBlock(ctx context.Context, number int64, hash string, content []byte) error {
	f.blocks[number] = content
	return nil
}

func (f *fakeBackend) UpsertTransaction(ctx context.Context, blockNum int64, hash string, payload []byte) error {
	f.transactions[hash] = payload
	return nil
}

func (f *fakeBackend) InsertReward(ctx context.Context, blockNum int64, key string, value, reward []byte) error {
	f.rewards = append(f.rewards, key)
	return nil
}

func (f *fakeBackend) StateBlockNum(ctx context.Context, key string) (int64, error) {
	if bn, ok := f.stateBlock[key]; ok {
		return bn, nil
	}
	return -1, nil
}

func (f *fakeBackend) UpsertState(ctx context.Context, blockNum int64, key string, value []byte, timestamp string) error {
	f.stateBlock[key] = blockNum
	f.stateValue[key] = value
	return nil
}

func (f *fakeBackend) AddressBlockNum(ctx context.Context, address string) (int64, error) {
	if bn, ok := f.addrBlock[address]; ok {
		return bn, nil
	}
	return -1, nil
}

func (f *fakeBackend) InsertAddress(ctx context.Context, blockNum int64, address string) error {
	f.addrBlock[address] = blockNum
	return nil
}

func (f *fakeBackend) UpsertContract(ctx context.Context, blockNum int64, name, code string, lst001, lst002, lst003 bool, created string) error {
	f.contracts[name] = code
	return nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

func stateBlock(number int64, key string, value string, txValid bool) *block.Block {
	return &block.Block{
		Number:       number,
		Hash:         "h",
		HLCTimestamp: "t",
		Content:      json.RawMessage(`{}`),
		TxValid:      txValid,
		State:        []block.StateChange{{Key: key, Value: json.RawMessage(value)}},
		Addresses:    map[string]struct{}{},
	}
}

// TestMonotonicStateRejectsOlderWrite verifies a write for a smaller block
// number never overwrites a state row already written by a larger one.
func TestMonotonicStateRejectsOlderWrite(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, "", false, testLogger())
	ctx := context.Background()

	newer := stateBlock(10, "currency.balances:alice", `"100"`, true)
	if err := w.Process(ctx, newer, "walk"); err != nil {
		t.Fatalf("process newer block: %v", err)
	}

	older := stateBlock(5, "currency.balances:alice", `"999"`, true)
	if err := w.Process(ctx, older, "walk"); err != nil {
		t.Fatalf("process older block: %v", err)
	}

	if got := string(backend.stateValue["currency.balances:alice"]); got != `"100"` {
		t.Fatalf("state value = %s, want the block-10 value to survive an older rewrite", got)
	}
	if backend.stateBlock["currency.balances:alice"] != 10 {
		t.Fatalf("stateBlock = %d, want 10", backend.stateBlock["currency.balances:alice"])
	}
}

// TestMonotonicStateAllowsNewerWrite verifies a later block's state write
// does overwrite an earlier one.
func TestMonotonicStateAllowsNewerWrite(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, "", false, testLogger())
	ctx := context.Background()

	if err := w.Process(ctx, stateBlock(5, "k", `"1"`, true), "walk"); err != nil {
		t.Fatalf("process block 5: %v", err)
	}
	if err := w.Process(ctx, stateBlock(10, "k", `"2"`, true), "walk"); err != nil {
		t.Fatalf("process block 10: %v", err)
	}
	if got := string(backend.stateValue["k"]); got != `"2"` {
		t.Fatalf("state value = %s, want the newer block's value", got)
	}
}

// TestAddressMonotonicityFirstSeenWins verifies the smallest-block-wins
// resolution of the address-monotonicity open question.
func TestAddressMonotonicityFirstSeenWins(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, "", false, testLogger())
	ctx := context.Background()

	addr := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	late := &block.Block{Number: 20, Hash: "h", HLCTimestamp: "t", Content: json.RawMessage(`{}`), TxValid: true, Addresses: map[string]struct{}{addr: {}}}
	if err := w.Process(ctx, late, "walk"); err != nil {
		t.Fatalf("process block 20: %v", err)
	}
	if backend.addrBlock[addr] != 20 {
		t.Fatalf("addrBlock = %d, want 20", backend.addrBlock[addr])
	}

	earlier := &block.Block{Number: 3, Hash: "h2", HLCTimestamp: "t", Content: json.RawMessage(`{}`), TxValid: true, Addresses: map[string]struct{}{addr: {}}}
	if err := w.Process(ctx, earlier, "walk"); err != nil {
		t.Fatalf("process block 3: %v", err)
	}
	if backend.addrBlock[addr] != 3 {
		t.Fatalf("addrBlock = %d, want 3 (first-seen wins over a later walk)", backend.addrBlock[addr])
	}
}

// TestProcessIdempotent verifies re-processing the same block twice leaves
// the backend in the same observable state (property: ingest idempotence).
func TestProcessIdempotent(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, "", false, testLogger())
	ctx := context.Background()

	b := stateBlock(1, "k", `"v"`, true)
	if err := w.Process(ctx, b, "walk"); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := w.Process(ctx, b, "walk"); err != nil {
		t.Fatalf("second process: %v", err)
	}
	if got := string(backend.stateValue["k"]); got != `"v"` {
		t.Fatalf("state value = %s, want \"v\"", got)
	}
	if backend.stateBlock["k"] != 1 {
		t.Fatalf("stateBlock = %d, want 1", backend.stateBlock["k"])
	}
}

// TestProcessSkipsStateOnInvalidTransaction verifies a failed transaction's
// state changes are never applied, even though the block itself is still
// saved.
func TestProcessSkipsStateOnInvalidTransaction(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, "", false, testLogger())
	ctx := context.Background()

	b := stateBlock(1, "k", `"v"`, false)
	if err := w.Process(ctx, b, "walk"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := backend.blocks[1]; !ok {
		t.Fatalf("block row should still be saved for a failed transaction")
	}
	if _, ok := backend.stateValue["k"]; ok {
		t.Fatalf("state should not be written for a failed transaction")
	}
}
