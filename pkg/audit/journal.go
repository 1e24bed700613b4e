package audit

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// Entry is one raw probe payload captured for later compaction.
type Entry struct {
	Timestamp int64  `json:"ts"` // nanoseconds
	PID       uint32 `json:"pid"`
	Category  string `json:"category"`
	Data      []byte `json:"data"`
}

// Journal appends raw payloads to Pebble using a time-ordered key, the
// same write-ahead shape as recorder.Journal.
type Journal struct {
	db *pebble.DB
}

// NewJournal builds a Journal writer bound to db.
func NewJournal(db *pebble.DB) *Journal {
	return &Journal{db: db}
}

// LogPayload appends one raw payload to the journal.
func (j *Journal) LogPayload(pid uint32, category string, data []byte) error {
	if j.db == nil {
		return fmt.Errorf("audit: journal has no pebble database")
	}

	entry := Entry{
		Timestamp: time.Now().UnixNano(),
		PID:       pid,
		Category:  category,
		Data:      data,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode journal entry: %w", err)
	}

	suffix, err := randomSuffix()
	if err != nil {
		return fmt.Errorf("audit: generate journal key: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d:%s", PrefixLog, entry.Timestamp, suffix))

	batch := j.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, payload, pebble.NoSync); err != nil {
		return fmt.Errorf("audit: write journal entry: %w", err)
	}
	return batch.Commit(pebble.NoSync)
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
