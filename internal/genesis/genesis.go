// Package genesis implements the one-shot Genesis Bootstrap routine
// (spec.md §4.8): load the bundled genesis block plus its state-changes
// files, synthesize contract records from .__code__/.__submitted__ pairs,
// and write everything under block number 0 with the "-infinity" timestamp
// sentinel.
//
// Grounded on original_source/sync.py's process_genesis_block: glob for
// state_changes*.json next to the genesis block, concatenate, then derive
// contracts from the merged state dict.
package genesis

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/block"
)

const infinity = "-infinity"

// Backend is the subset of the store the bootstrap depends on.
type Backend interface {
	UpsertBlock(ctx context.Context, number int64, hash string, content []byte) error
	UpsertState(ctx context.Context, blockNum int64, key string, value []byte, timestamp string) error
	UpsertContract(ctx context.Context, blockNum int64, name, code string, lst001, lst002, lst003 bool, created string) error
}

// FileSystem abstracts genesis-file access for testability.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Glob(pattern string) ([]string, error)
}

// Bootstrap runs the genesis load; it is idempotent by virtue of the
// underlying upserts, so running it more than once is harmless.
type Bootstrap struct {
	store Backend
	fs    FileSystem
	dir   string
	log   *logrus.Entry
}

func New(store Backend, fs FileSystem, dir string, log *logrus.Entry) *Bootstrap {
	return &Bootstrap{store: store, fs: fs, dir: dir, log: log.WithField("component", "genesis")}
}

// Run performs the four steps of spec.md §4.8.
func (b *Bootstrap) Run(ctx context.Context) error {
	genesisPath := filepath.Join(b.dir, "genesis_block.json")
	raw, err := b.fs.ReadFile(genesisPath)
	if err != nil {
		return fmt.Errorf("read genesis block file %s: %w", genesisPath, err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("decode genesis block: %w", err)
	}
	generic["hlc_timestamp"] = json.RawMessage(`"` + infinity + `"`)
	patched, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("re-marshal genesis block: %w", err)
	}

	blk, err := block.Decode(patched)
	if err != nil {
		return fmt.Errorf("decode patched genesis block: %w", err)
	}
	if err := b.store.UpsertBlock(ctx, blk.Number, blk.Hash, patched); err != nil {
		return fmt.Errorf("upsert genesis block: %w", err)
	}
	b.log.Debug("saved genesis block")

	entries, err := b.loadGenesisState()
	if err != nil {
		return err
	}

	state := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		if err := b.store.UpsertState(ctx, 0, e.Key, e.Value, infinity); err != nil {
			return fmt.Errorf("upsert genesis state %s: %w", e.Key, err)
		}
		state[e.Key] = e.Value
	}
	b.log.WithField("count", len(entries)).Debug("saved genesis state")

	if err := b.saveContracts(ctx, state); err != nil {
		return err
	}

	return nil
}

func (b *Bootstrap) loadGenesisState() ([]block.GenesisEntry, error) {
	// State-changes files are co-located with the genesis block (spec.md
	// §6's "Genesis files" interface); glob directly in the genesis dir.
	paths, err := b.fs.Glob(filepath.Join(b.dir, "state_changes*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob genesis state files: %w", err)
	}

	var merged []block.GenesisEntry
	for _, p := range paths {
		raw, err := b.fs.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read genesis state file %s: %w", p, err)
		}
		var part []block.GenesisEntry
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, fmt.Errorf("decode genesis state file %s: %w", p, err)
		}
		b.log.WithField("file", p).Debug("adding genesis state changes")
		merged = append(merged, part...)
	}
	return merged, nil
}

// saveContracts derives Contract rows from keys ending in ".__code__",
// looking up the matching ".__submitted__" record for its timestamp and
// classifying the code against LST001/002/003.
func (b *Bootstrap) saveContracts(ctx context.Context, state map[string]json.RawMessage) error {
	for key, codeRaw := range state {
		const codeSuffix = ".__code__"
		if !strings.HasSuffix(key, codeSuffix) {
			continue
		}
		name := strings.TrimSuffix(key, codeSuffix)

		var code string
		if err := json.Unmarshal(codeRaw, &code); err != nil {
			return fmt.Errorf("genesis contract %s: code not a string: %w", name, err)
		}

		submittedRaw, ok := state[name+".__submitted__"]
		if !ok {
			return fmt.Errorf("genesis contract %s: missing .__submitted__ record", name)
		}
		submittedAt, err := submittedTimestamp(submittedRaw)
		if err != nil {
			return fmt.Errorf("genesis contract %s: %w", name, err)
		}

		lst001 := block.IsLST001(code)
		lst002 := block.IsLST002(code)
		lst003 := block.IsLST003(code)

		if err := b.store.UpsertContract(ctx, 0, name, code, lst001, lst002, lst003, submittedAt); err != nil {
			return fmt.Errorf("upsert genesis contract %s: %w", name, err)
		}
		b.log.WithField("contract", name).Debug("saved genesis contract")
	}
	return nil
}

// submittedTimestamp converts a {"__time__": [y,mon,d,h,m,s,us]} record into
// an ISO-8601 UTC timestamp string.
func submittedTimestamp(raw json.RawMessage) (string, error) {
	var rec struct {
		Time []int `json:"__time__"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("decode __submitted__ record: %w", err)
	}
	if len(rec.Time) < 6 {
		return "", fmt.Errorf("__time__ list too short: %v", rec.Time)
	}
	y, mo, d, h, mi, s := rec.Time[0], rec.Time[1], rec.Time[2], rec.Time[3], rec.Time[4], rec.Time[5]
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", y, mo, d, h, mi, s), nil
}
