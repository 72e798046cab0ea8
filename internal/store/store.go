// Package store is the thin façade over the relational backend: a small set
// of named, parameterized statements, each run on its own connection with
// autocommit, never batched across logically independent writes (a crash
// between two unrelated statements must still leave the store consistent
// under the monotonicity rule — see SPEC_FULL.md §4.2 / §4.3).
//
// Grounded on the teacher's database-adjacent idiom of wrapping driver
// errors with pkg/utils.Wrap, generalized here to a Postgres backend via
// database/sql + github.com/lib/pq (§10.5 of SPEC_FULL.md): the schema uses
// native JSON columns and ON CONFLICT upserts, which lib/pq exposes as
// plain parameterized SQL text.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Store wraps a *sql.DB and exposes the named statements the ingest writer,
// fetcher, and genesis bootstrap depend on. It never holds a transaction
// open across statements belonging to different entities.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open connects to the Postgres-shaped backend described in SPEC_FULL.md §6.
func Open(dsn string, log *logrus.Entry) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &Store{db: db, log: log.WithField("component", "store")}, nil
}

// New wraps an already-open *sql.DB, for tests driving go-sqlmock.
func New(db *sql.DB, log *logrus.Entry) *Store {
	return &Store{db: db, log: log.WithField("component", "store")}
}

func (s *Store) Close() error { return s.db.Close() }

// --- schema-level statements -------------------------------------------------

const (
	upsertBlock = `
INSERT INTO blocks (number, hash, block, created)
VALUES ($1, $2, $3, now())
ON CONFLICT (number) DO UPDATE SET hash = EXCLUDED.hash, block = EXCLUDED.block`

	upsertTransaction = `
INSERT INTO transactions (block_num, hash, transaction, created)
VALUES ($1, $2, $3, now())
ON CONFLICT (hash) DO UPDATE SET block_num = EXCLUDED.block_num, transaction = EXCLUDED.transaction`

	insertReward = `
INSERT INTO rewards (block_num, key, value, reward, created)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (block_num, key) DO UPDATE SET value = EXCLUDED.value, reward = EXCLUDED.reward`

	selectStateBlockNum = `SELECT block_num FROM state WHERE key = $1`

	upsertState = `
INSERT INTO state (block_num, key, value, created, updated)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (key) DO UPDATE SET block_num = EXCLUDED.block_num, value = EXCLUDED.value, updated = EXCLUDED.updated`

	selectAddressBlockNum = `SELECT block_num FROM addresses WHERE address = $1`

	insertAddress = `
INSERT INTO addresses (block_num, address, created)
VALUES ($1, $2, now())
ON CONFLICT (address) DO UPDATE SET block_num = EXCLUDED.block_num`

	upsertContract = `
INSERT INTO contracts (block_num, name, code, lst001, lst002, lst003, created)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name) DO UPDATE SET block_num = EXCLUDED.block_num, code = EXCLUDED.code,
	lst001 = EXCLUDED.lst001, lst002 = EXCLUDED.lst002, lst003 = EXCLUDED.lst003`

	selectBlockByNumber = `SELECT block FROM blocks WHERE number = $1`
	selectBlockByHash   = `SELECT block FROM blocks WHERE hash = $1`
	selectTransaction   = `SELECT transaction FROM transactions WHERE hash = $1`
	selectState         = `SELECT value FROM state WHERE key = $1`
	selectContract      = `SELECT code FROM contracts WHERE name = $1`

	selectCursor = `SELECT value FROM kv WHERE key = $1`
	upsertCursor = `
INSERT INTO kv (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
)

// UpsertBlock writes a block row. Idempotent: re-running with the same
// number and content is a no-op observably (property 2, ingest idempotence).
func (s *Store) UpsertBlock(ctx context.Context, number int64, hash string, content []byte) error {
	_, err := s.db.ExecContext(ctx, upsertBlock, number, hash, content)
	return wrap("upsert_block", err)
}

func (s *Store) UpsertTransaction(ctx context.Context, blockNum int64, hash string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, upsertTransaction, blockNum, hash, payload)
	return wrap("upsert_transaction", err)
}

func (s *Store) InsertReward(ctx context.Context, blockNum int64, key string, value, reward []byte) error {
	_, err := s.db.ExecContext(ctx, insertReward, blockNum, key, value, reward)
	return wrap("insert_reward", err)
}

// StateBlockNum returns the currently stored block_num for a state key, or
// (-1, nil) if no row exists yet.
func (s *Store) StateBlockNum(ctx context.Context, key string) (int64, error) {
	var bn int64
	err := s.db.QueryRowContext(ctx, selectStateBlockNum, key).Scan(&bn)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, wrap("select_state_block_num", err)
	}
	return bn, nil
}

// UpsertState writes a state row unconditionally; callers (the ingest
// writer) are responsible for the monotonic-state rule check beforehand.
func (s *Store) UpsertState(ctx context.Context, blockNum int64, key string, value []byte, timestamp string) error {
	_, err := s.db.ExecContext(ctx, upsertState, blockNum, key, value, timestamp)
	return wrap("upsert_state", err)
}

// AddressBlockNum returns the currently stored block_num for an address, or
// (-1, nil) if no row exists yet.
func (s *Store) AddressBlockNum(ctx context.Context, address string) (int64, error) {
	var bn int64
	err := s.db.QueryRowContext(ctx, selectAddressBlockNum, address).Scan(&bn)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, wrap("select_address_block_num", err)
	}
	return bn, nil
}

func (s *Store) InsertAddress(ctx context.Context, blockNum int64, address string) error {
	_, err := s.db.ExecContext(ctx, insertAddress, blockNum, address)
	return wrap("insert_address", err)
}

func (s *Store) UpsertContract(ctx context.Context, blockNum int64, name, code string, lst001, lst002, lst003 bool, created string) error {
	_, err := s.db.ExecContext(ctx, upsertContract, blockNum, name, code, lst001, lst002, lst003, created)
	return wrap("upsert_contract", err)
}

// BlockByNumber returns the raw block JSON for a number, or (nil, nil) if
// absent (a miss is not an error).
func (s *Store) BlockByNumber(ctx context.Context, number int64) ([]byte, error) {
	return s.selectBlock(ctx, selectBlockByNumber, number)
}

// BlockByHash returns the raw block JSON for a hash, or (nil, nil) if absent.
func (s *Store) BlockByHash(ctx context.Context, hash string) ([]byte, error) {
	return s.selectBlock(ctx, selectBlockByHash, hash)
}

func (s *Store) selectBlock(ctx context.Context, stmt string, arg interface{}) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, stmt, arg).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("select_block", err)
	}
	return raw, nil
}

// TransactionByHash returns the raw transaction JSON for a hash, or
// (nil, nil) if absent.
func (s *Store) TransactionByHash(ctx context.Context, hash string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectTransaction, hash).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("select_transaction", err)
	}
	return raw, nil
}

// StateByKey returns the raw state value for a key, or (nil, nil) if absent.
func (s *Store) StateByKey(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectState, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("select_state", err)
	}
	return raw, nil
}

// ContractByName returns the raw contract code for a name, or (nil, nil) if
// absent.
func (s *Store) ContractByName(ctx context.Context, name string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectContract, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("select_contract", err)
	}
	return raw, nil
}

// CursorGet reads a durable cursor value (raw text; callers parse ints/bools).
func (s *Store) CursorGet(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, selectCursor, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("select_cursor", err)
	}
	return v, true, nil
}

// CursorSet durably writes a cursor value.
func (s *Store) CursorSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, upsertCursor, key, value)
	return wrap("upsert_cursor", err)
}

func wrap(statement string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("statement %s: %w", statement, err)
}
