package config

import (
	"context"
	"strconv"
)

// CursorBackend is the durable key/value get/set contract the sync driver
// and live feed depend on (SPEC_FULL.md §1 / §6). The concrete
// implementation is the relational store's kv table, but the interface is
// intentionally narrow so tests can substitute an in-memory map.
type CursorBackend interface {
	CursorGet(ctx context.Context, key string) (string, bool, error)
	CursorSet(ctx context.Context, key, value string) error
}

// Cursors is the typed view over the four durable sync keys: block_latest,
// sync_start, sync_end, genesis_processed.
type Cursors struct {
	backend CursorBackend
}

func NewCursors(backend CursorBackend) *Cursors {
	return &Cursors{backend: backend}
}

const (
	keyBlockLatest      = "block_latest"
	keySyncStart        = "sync_start"
	keySyncEnd          = "sync_end"
	keyGenesisProcessed = "genesis_processed"
)

// BlockLatest returns the most recent tip observed on the live feed, or 0
// if never set.
func (c *Cursors) BlockLatest(ctx context.Context) (int64, error) {
	return c.getInt(ctx, keyBlockLatest, 0)
}

func (c *Cursors) SetBlockLatest(ctx context.Context, n int64) error {
	return c.backend.CursorSet(ctx, keyBlockLatest, strconv.FormatInt(n, 10))
}

// SyncStart returns (value, ok): ok is false when the cursor is null,
// meaning "start from block_latest" per spec.md §4.5.
func (c *Cursors) SyncStart(ctx context.Context) (int64, bool, error) {
	v, ok, err := c.backend.CursorGet(ctx, keySyncStart)
	if err != nil || !ok || v == "" {
		return 0, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *Cursors) SetSyncStart(ctx context.Context, n int64) error {
	return c.backend.CursorSet(ctx, keySyncStart, strconv.FormatInt(n, 10))
}

// ClearSyncStart resets sync_start to null ("resume from live tip").
func (c *Cursors) ClearSyncStart(ctx context.Context) error {
	return c.backend.CursorSet(ctx, keySyncStart, "")
}

func (c *Cursors) SyncEnd(ctx context.Context) (int64, error) {
	return c.getInt(ctx, keySyncEnd, 0)
}

func (c *Cursors) SetSyncEnd(ctx context.Context, n int64) error {
	return c.backend.CursorSet(ctx, keySyncEnd, strconv.FormatInt(n, 10))
}

func (c *Cursors) GenesisProcessed(ctx context.Context) (bool, error) {
	v, ok, err := c.backend.CursorGet(ctx, keyGenesisProcessed)
	if err != nil || !ok {
		return false, err
	}
	return v == "true", nil
}

func (c *Cursors) SetGenesisProcessed(ctx context.Context, done bool) error {
	v := "false"
	if done {
		v = "true"
	}
	return c.backend.CursorSet(ctx, keyGenesisProcessed, v)
}

func (c *Cursors) getInt(ctx context.Context, key string, def int64) (int64, error) {
	v, ok, err := c.backend.CursorGet(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
