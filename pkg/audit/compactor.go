package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cockroachdb/pebble"
)

// referenceRecord links a journal entry's content hash to its payload
// CID, so a later audit query can locate the payload a given pid/time
// produced without re-scanning the journal.
type referenceRecord struct {
	PID       uint32 `json:"pid"`
	Timestamp int64  `json:"ts"`
	CID       string `json:"cid"`
	Size      int    `json:"size"`
	Category  string `json:"category"`
}

// StartCompactor launches a background worker that drains journal
// entries into the PayloadStore and a reference index, freeing the
// journal as it goes. Grounded on recorder.StartProcessor's
// cancel-context + prefix-iterator drain loop.
func StartCompactor(db *pebble.DB, store *PayloadStore) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go compactLoop(ctx, db, store)
	return cancel
}

func compactLoop(ctx context.Context, db *pebble.DB, store *PayloadStore) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := drainOnce(db, store)
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func drainOnce(db *pebble.DB, store *PayloadStore) bool {
	iter, err := newPrefixIter(db, PrefixLog)
	if err != nil {
		log.Printf("[audit] compactor: iterator init error: %v", err)
		return false
	}
	defer iter.Close()

	processed := false
	for iter.First(); iter.Valid(); iter.Next() {
		processed = true
		key := append([]byte(nil), iter.Key()...)
		payload := append([]byte(nil), iter.Value()...)
		if err := compactEntry(db, store, key, payload); err != nil {
			log.Printf("[audit] compactor: entry %s: %v", string(key), err)
		}
	}
	if err := iter.Error(); err != nil {
		log.Printf("[audit] compactor: iterator error: %v", err)
	}
	return processed
}

func compactEntry(db *pebble.DB, store *PayloadStore, logKey, payload []byte) error {
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return fmt.Errorf("decode journal entry: %w", err)
	}

	cid, err := store.Put(entry.Data)
	if err != nil {
		return fmt.Errorf("store payload: %w", err)
	}
	refID := fmt.Sprintf("%d:%020d", entry.PID, entry.Timestamp)
	if err := store.AddReference(cid, refID); err != nil {
		return fmt.Errorf("add reference: %w", err)
	}

	ref := referenceRecord{PID: entry.PID, Timestamp: entry.Timestamp, CID: cid, Size: len(entry.Data), Category: entry.Category}
	refBytes, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode reference: %w", err)
	}
	hash := sha256.Sum256(payload)
	refKey := []byte(fmt.Sprintf("%sref:%s", PrefixMeta, hex.EncodeToString(hash[:])))
	if err := db.Set(refKey, refBytes, pebble.Sync); err != nil {
		return fmt.Errorf("write reference index: %w", err)
	}

	return db.Delete(logKey, pebble.Sync)
}
