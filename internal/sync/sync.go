// Package sync implements the backward-walking Sync Driver state machine
// (spec.md §4.5): Idle -> Syncing -> Walking -> Idle, persisting sync_start
// and sync_end cursors so a crash mid-walk resumes exactly where it left
// off.
package sync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/block"
	"lamden-indexer/internal/config"
	"lamden-indexer/internal/errs"
	"lamden-indexer/internal/fetch"
	"lamden-indexer/internal/metrics"
	"lamden-indexer/internal/notify"
)

// Fetcher is the subset of internal/fetch.Fetcher the driver depends on.
type Fetcher interface {
	Get(ctx context.Context, id interface{}, consultStore bool) (*fetch.Result, error)
}

// Writer is the subset of internal/ingest.Writer the driver depends on.
type Writer interface {
	Process(ctx context.Context, b *block.Block, origin string) error
}

// GenesisBootstrap runs the one-shot genesis load, gated by the
// genesis_processed cursor.
type GenesisBootstrap interface {
	Run(ctx context.Context) error
}

// Driver owns one Sync Driver's state machine over a shared cursor store.
// It is safe to run its Tick concurrently with live-feed ingest workers
// (spec.md §5); it is NOT safe to run two Ticks concurrently with each
// other, hence the Scheduler's single-flight guard.
type Driver struct {
	cursors  *config.Cursors
	fetcher  Fetcher
	writer   Writer
	genesis  GenesisBootstrap
	notifier notify.Notifier
	log      *logrus.Entry
}

func New(cursors *config.Cursors, fetcher Fetcher, writer Writer, genesis GenesisBootstrap, notifier notify.Notifier, log *logrus.Entry) *Driver {
	return &Driver{cursors: cursors, fetcher: fetcher, writer: writer, genesis: genesis, notifier: notifier, log: log.WithField("component", "sync")}
}

// EnsureGenesis runs the Genesis Bootstrap exactly once, at startup, gated
// by the durable genesis_processed flag (spec.md §4.8 preconditions).
func (d *Driver) EnsureGenesis(ctx context.Context) error {
	done, err := d.cursors.GenesisProcessed(ctx)
	if err != nil {
		return fmt.Errorf("read genesis_processed: %w", err)
	}
	if done {
		return nil
	}
	if err := d.genesis.Run(ctx); err != nil {
		return fmt.Errorf("genesis bootstrap: %w", err)
	}
	return d.cursors.SetGenesisProcessed(ctx, true)
}

// Tick runs one Idle->Syncing->Walking->Idle pass. It is the function the
// Scheduler fires at job_interval_sync.
func (d *Driver) Tick(ctx context.Context) error {
	s, hasStart, err := d.cursors.SyncStart(ctx)
	if err != nil {
		return fmt.Errorf("read sync_start: %w", err)
	}
	if !hasStart {
		s, err = d.cursors.BlockLatest(ctx)
		if err != nil {
			return fmt.Errorf("read block_latest: %w", err)
		}
	}
	e, err := d.cursors.SyncEnd(ctx)
	if err != nil {
		return fmt.Errorf("read sync_end: %w", err)
	}

	if s == e {
		d.log.Debug("already synchronized")
		return nil
	}

	if s < e {
		metrics.CursorCorruption.Inc()
		d.log.WithFields(logrus.Fields{"sync_start": s, "sync_end": e}).Warn("cursor corruption detected, resetting")
		d.notifier.Send(fmt.Sprintf("sync cursor corruption detected (sync_start=%d < sync_end=%d), resetting", s, e))
		if err := d.cursors.ClearSyncStart(ctx); err != nil {
			return fmt.Errorf("reset sync_start: %w", err)
		}
		if err := d.cursors.SetSyncEnd(ctx, 0); err != nil {
			return fmt.Errorf("reset sync_end: %w", err)
		}
		return errs.ErrCursorCorruption
	}

	return d.walk(ctx, s, e)
}

// walk implements the Walking state: fetch block s, ingest if it came from
// the network, then step to block.previous until reaching e or genesis.
// Each block is fetched and processed exactly once; sync_start advances
// only after its block's ingest completes, so a crash mid-walk resumes by
// re-fetching (idempotently) from the last persisted cursor (spec.md §4.5).
func (d *Driver) walk(ctx context.Context, start, end int64) error {
	originalStart := start

	res, err := d.fetcher.Get(ctx, start, true)
	if err != nil {
		d.log.WithError(err).WithField("block", start).Warn("walk halted: could not fetch block")
		return nil
	}
	if !res.FromStore {
		if err := d.writer.Process(ctx, res.Block, "walk"); err != nil {
			d.log.WithError(err).WithField("block", start).Warn("walk halted: ingest failed")
			return nil
		}
	}
	current := res.Block

	for {
		if current.Number == end || current.Number == 0 {
			return d.finalizeWalk(ctx, originalStart, current.Number)
		}

		prevRes, err := d.fetcher.Get(ctx, current.Previous, true)
		if err != nil {
			d.log.WithError(err).WithField("previous", current.Previous).Warn("walk halted: could not fetch previous block")
			return nil
		}
		if !prevRes.FromStore {
			if err := d.writer.Process(ctx, prevRes.Block, "walk"); err != nil {
				d.log.WithError(err).WithField("block", prevRes.Block.Number).Warn("walk halted: ingest failed")
				return nil
			}
		}

		if err := d.cursors.SetSyncStart(ctx, prevRes.Block.Number); err != nil {
			return fmt.Errorf("advance sync_start: %w", err)
		}
		metrics.SyncLag.Set(float64(prevRes.Block.Number - end))

		current = prevRes.Block
	}
}

func (d *Driver) finalizeWalk(ctx context.Context, originalStart, reached int64) error {
	if err := d.cursors.SetSyncEnd(ctx, originalStart); err != nil {
		return fmt.Errorf("finalize sync_end: %w", err)
	}
	if err := d.cursors.ClearSyncStart(ctx); err != nil {
		return fmt.Errorf("finalize sync_start: %w", err)
	}
	metrics.SyncLag.Set(0)
	d.log.WithField("reached", reached).Debug("walk finalized")
	return nil
}
