package storage

import (
	"github.com/cuemby/modelsteward/pkg/types"
)

// Store is the persistence contract for the egress ledger bridge: an
// append-only record of every allow/deny decision the steward makes,
// keyed by insertion order so pagination is stable.
type Store interface {
	// AppendLedgerEntry assigns the entry a fresh id (replacing any id it
	// already carries) and persists it. A retried append with the same
	// CorrID/Decision pair is not deduplicated here; each call adds a new
	// entry.
	AppendLedgerEntry(entry *types.EgressLedgerEntry) (string, error)

	// ListLedgerEntries returns up to limit entries starting at offset, in
	// insertion order.
	ListLedgerEntries(limit, offset int) ([]*types.EgressLedgerEntry, error)

	// GetLedgerEntry retrieves a single entry by its assigned id.
	GetLedgerEntry(id string) (*types.EgressLedgerEntry, error)

	Close() error
}
