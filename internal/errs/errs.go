// Package errs defines the error taxonomy shared by the synchronization
// engine (decoder, fetcher, sync driver, ingest writer). Every constructor
// wraps its sentinel with fmt.Errorf's %w (Malformed also wraps the
// underlying cause), so callers can errors.Is/As against the sentinels
// below instead of string-matching log output.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedBlock marks a raw block payload that failed to decode
	// because a required field was missing or had the wrong shape.
	ErrMalformedBlock = errors.New("malformed block data")

	// ErrInvalidBlock marks a payload that a source explicitly reported as
	// an error (the masternode has nothing for this identifier).
	ErrInvalidBlock = errors.New("invalid block")

	// ErrSourceUnreachable marks a network-layer failure talking to a
	// single block source; the fetcher tries the next configured source.
	ErrSourceUnreachable = errors.New("block source unreachable")

	// ErrNoSourceAvailable marks exhaustion of every configured source for
	// a given block identifier.
	ErrNoSourceAvailable = errors.New("no source returned the block")

	// ErrCursorCorruption marks the sync_start < sync_end invariant
	// violation; the sync driver resets both cursors on observing it.
	ErrCursorCorruption = errors.New("sync cursor corruption")

	// ErrBackendFailure marks a store-layer error surfaced from a write.
	ErrBackendFailure = errors.New("backend store failure")
)

// Malformed wraps err as ErrMalformedBlock with additional context.
func Malformed(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, ErrMalformedBlock, err)
}

// Invalid wraps the source-reported error text as ErrInvalidBlock.
func Invalid(context string, reason string) error {
	return fmt.Errorf("%s: %w: %s", context, ErrInvalidBlock, reason)
}

// Unreachable wraps a network failure as ErrSourceUnreachable.
func Unreachable(source string, err error) error {
	return fmt.Errorf("source %s: %w: %s", source, ErrSourceUnreachable, err)
}

// Backend wraps a store error as ErrBackendFailure.
func Backend(statement string, err error) error {
	return fmt.Errorf("statement %s: %w: %s", statement, ErrBackendFailure, err)
}
