// Package ingest implements the Ingest Writer: given a decoded Block, issue
// the full set of dependent writes in the fixed order spec.md §4.3
// requires, so that a crash between steps always leaves the store in a
// state a reader can observe consistently (a Transaction row implies its
// Block row exists, etc).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/block"
	"lamden-indexer/internal/metrics"
)

// Backend is the subset of the store the writer depends on.
type Backend interface {
	UpsertBlock(ctx context.Context, number int64, hash string, content []byte) error
	UpsertTransaction(ctx context.Context, blockNum int64, hash string, payload []byte) error
	InsertReward(ctx context.Context, blockNum int64, key string, value, reward []byte) error
	StateBlockNum(ctx context.Context, key string) (int64, error)
	UpsertState(ctx context.Context, blockNum int64, key string, value []byte, timestamp string) error
	AddressBlockNum(ctx context.Context, address string) (int64, error)
	InsertAddress(ctx context.Context, blockNum int64, address string) error
	UpsertContract(ctx context.Context, blockNum int64, name, code string, lst001, lst002, lst003 bool, created string) error
}

// Writer performs the ordered write sequence for one decoded Block.
type Writer struct {
	store     Backend
	blockDir  string
	saveFiles bool
	log       *logrus.Entry
}

func New(store Backend, blockDir string, saveFiles bool, log *logrus.Entry) *Writer {
	return &Writer{store: store, blockDir: blockDir, saveFiles: saveFiles, log: log.WithField("component", "ingest")}
}

// transactionEnvelope is what gets persisted to the transactions table: the
// processed-transaction envelope with its "state" list stripped, per
// spec.md §4.3 step 2.
type transactionEnvelope struct {
	Hash    string          `json:"hash"`
	Status  int             `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Payload block.TxPayload `json:"transaction"`
}

// Process writes a single non-genesis block. Each step's failure aborts the
// block: the caller (sync driver / live feed worker) must not advance any
// cursor past this block number if Process returns an error.
func (w *Writer) Process(ctx context.Context, b *block.Block, origin string) error {
	log := w.log.WithField("block", b.Number)

	if err := w.store.UpsertBlock(ctx, b.Number, b.Hash, b.Content); err != nil {
		return fmt.Errorf("upsert block %d: %w", b.Number, err)
	}
	log.Debug("saved block")

	if b.HasTx {
		env := transactionEnvelope{Hash: b.TxHash, Status: boolToStatus(b.TxValid), Result: b.TxResult, Payload: b.TxPayload}
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal transaction %s: %w", b.TxHash, err)
		}
		if err := w.store.UpsertTransaction(ctx, b.Number, b.TxHash, payload); err != nil {
			return fmt.Errorf("upsert transaction %s: %w", b.TxHash, err)
		}
		log.WithField("tx", b.TxHash).Debug("saved transaction")
	}

	for _, r := range b.Rewards {
		if err := w.store.InsertReward(ctx, b.Number, r.Key, r.Value, r.Reward); err != nil {
			return fmt.Errorf("insert reward %s: %w", r.Key, err)
		}
	}
	log.Debug("saved rewards")

	for _, r := range b.Rewards {
		if err := w.applyMonotonicState(ctx, b.Number, r.Key, r.Value, b.HLCTimestamp); err != nil {
			return fmt.Errorf("apply reward state %s: %w", r.Key, err)
		}
	}

	if b.TxValid {
		for _, s := range b.State {
			if err := w.applyMonotonicState(ctx, b.Number, s.Key, s.Value, b.HLCTimestamp); err != nil {
				return fmt.Errorf("apply tx state %s: %w", s.Key, err)
			}
		}

		for addr := range b.Addresses {
			if err := w.applyAddressMonotonicity(ctx, b.Number, addr); err != nil {
				return fmt.Errorf("insert address %s: %w", addr, err)
			}
		}

		if b.IsNewContract {
			if err := w.store.UpsertContract(ctx, b.Number, b.ContractName, b.ContractCode, b.LST001, b.LST002, b.LST003, b.HLCTimestamp); err != nil {
				return fmt.Errorf("upsert contract %s: %w", b.ContractName, err)
			}
			log.WithField("contract", b.ContractName).Debug("saved contract")
		}
	}

	if w.saveFiles {
		if err := w.saveBlockFile(b); err != nil {
			log.WithError(err).Warn("could not archive block to file")
		}
	}

	metrics.BlocksIngested.WithLabelValues(origin).Inc()
	log.Debug("processed block")
	return nil
}

// applyMonotonicState implements the monotonic-state rule shared by
// transaction state and reward-derived state (spec.md §4.3): skip silently
// if an existing row has a strictly greater block_num.
func (w *Writer) applyMonotonicState(ctx context.Context, blockNum int64, key string, value json.RawMessage, timestamp string) error {
	existing, err := w.store.StateBlockNum(ctx, key)
	if err != nil {
		return err
	}
	if existing > blockNum {
		w.log.WithFields(logrus.Fields{"key": key, "existing_block": existing, "this_block": blockNum}).
			Trace("monotonic state rejection")
		return nil
	}
	return w.store.UpsertState(ctx, blockNum, key, value, timestamp)
}

// applyAddressMonotonicity writes an address row only if no existing row
// has a smaller block_num (first-seen provenance, per SPEC_FULL.md §9's
// resolution of the address-monotonicity open question).
func (w *Writer) applyAddressMonotonicity(ctx context.Context, blockNum int64, address string) error {
	existing, err := w.store.AddressBlockNum(ctx, address)
	if err != nil {
		return err
	}
	if existing != -1 && existing <= blockNum {
		return nil
	}
	return w.store.InsertAddress(ctx, blockNum, address)
}

func (w *Writer) saveBlockFile(b *block.Block) error {
	file := filepath.Join(w.blockDir, fmt.Sprintf("%d.json", b.Number))
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	return os.WriteFile(file, b.Content, 0o644)
}

func boolToStatus(valid bool) int {
	if valid {
		return 0
	}
	return 1
}
