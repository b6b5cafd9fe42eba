/*
Package storage backs the egress ledger bridge with a BoltDB (go.etcd.io/bbolt)
file: an append-only record of every allow/deny network decision the Model
Steward makes, keyed by a zero-padded monotonic sequence so byte-order
iteration matches insertion order.

The ledger is treated as an external collaborator in the steward's design;
this package is the default in-process implementation used when no other
ledger sink is configured. Its contract is narrow on purpose: append,
fetch by id, and list a page in order. There is no update or delete —
the ledger is a record of what happened, not current state.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	id, err := store.AppendLedgerEntry(&types.EgressLedgerEntry{
		Decision:   "allow",
		ReasonCode: "ok",
		Host:       "example.com",
		CorrID:     corrID,
	})

	page, err := store.ListLedgerEntries(50, 0)

BoltDB gives the append path ACID transactions with fsync-on-commit: a
steward process that crashes mid-download still has a consistent ledger
for everything that completed before the crash.
*/
package storage
