package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/modelsteward/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketEgressLedger = []byte("egress_ledger")

// BoltStore implements Store using BoltDB as the egress ledger's backing
// file. One bucket, one monotonic sequence, zero-padded so lexicographic
// key order matches insertion order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the ledger database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "egress_ledger.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open egress ledger database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEgressLedger)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create egress ledger bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// AppendLedgerEntry persists entry under the next sequence key and returns
// the assigned id.
func (s *BoltStore) AppendLedgerEntry(entry *types.EgressLedgerEntry) (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEgressLedger)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate ledger sequence: %w", err)
		}
		id = fmt.Sprintf("%020d", seq)
		entry.ID = id

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal ledger entry: %w", err)
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetLedgerEntry retrieves a single entry by its assigned id.
func (s *BoltStore) GetLedgerEntry(id string) (*types.EgressLedgerEntry, error) {
	var entry types.EgressLedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEgressLedger)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("ledger entry not found: %s", id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListLedgerEntries returns up to limit entries starting at offset, in
// insertion order.
func (s *BoltStore) ListLedgerEntries(limit, offset int) ([]*types.EgressLedgerEntry, error) {
	var entries []*types.EgressLedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEgressLedger)
		c := b.Cursor()

		i := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if i < offset {
				i++
				continue
			}
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry types.EgressLedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal ledger entry %s: %w", k, err)
			}
			entries = append(entries, &entry)
			i++
		}
		return nil
	})
	return entries, err
}
