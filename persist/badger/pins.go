package badger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ipfs/go-cid"
	"go.sia.tech/minty/api"
)

const pinPrefix = "pin/"

// normalizeCid converts c to a v1 CID so that v0 and v1 encodings of the
// same content share records.
func normalizeCid(c cid.Cid) cid.Cid {
	if c.Version() == 1 {
		return c
	}
	return cid.NewCidV1(c.Type(), c.Hash())
}

func cidPrefix(c cid.Cid) []byte {
	return []byte(pinPrefix + normalizeCid(c).String() + "/")
}

func pinKey(c cid.Cid, service string) []byte {
	return append(cidPrefix(c), service...)
}

// AddPinRecord stores the outcome of a pin request, replacing any previous
// record for the same CID and service.
func (s *Store) AddPinRecord(record api.PinRecord) error {
	if !record.CID.Defined() {
		return errors.New("record is missing cid")
	} else if record.Service == "" {
		return errors.New("record is missing service")
	}

	buf, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pinKey(record.CID, record.Service), buf)
	})
}

// PinRecords returns the records for a CID across all services.
func (s *Store) PinRecords(c cid.Cid) (records []api.PinRecord, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := cidPrefix(c)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 10})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record api.PinRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("failed to decode record %q: %w", it.Item().Key(), err)
			}
			records = append(records, record)
		}
		return nil
	})
	return
}

// AllPinRecords returns up to limit records, skipping the first offset.
// Records are ordered by CID, then service.
func (s *Store) AllPinRecords(offset, limit int) (records []api.PinRecord, err error) {
	if offset < 0 || limit <= 0 {
		return nil, errors.New("invalid offset or limit")
	}

	err = s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(pinPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		var i int
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(records) < limit; it.Next() {
			if i++; i <= offset {
				continue
			}
			var record api.PinRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("failed to decode record %q: %w", it.Item().Key(), err)
			}
			records = append(records, record)
		}
		return nil
	})
	return
}
