// Package audit journals every raw probe payload for replay and
// forensics, deduplicating identical payloads into a
// content-addressed store and periodically committing a Merkle root
// over published-result batches so a consumer can verify a batch
// wasn't tampered with after the fact.
//
// Grounded directly on pkg/cas/store.go: same Pebble key-prefix
// scheme, same zstd-compress-before-store, same reference-counted
// garbage collection. Renamed from a per-file CAS (dedup'ing binary
// diffs of tracked files) to a per-payload CAS (dedup'ing raw audit
// payloads referenced by event id).
package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"
)

const (
	PrefixCAS  = "c:" // compressed payload blobs
	PrefixMeta = "m:" // reference-count metadata
	PrefixLog  = "l:" // the raw journal (see journal.go)
)

const metaRefPrefix = PrefixMeta + "ref:"

const compressionMagic = "RAV1"

// PayloadStore is content-addressed storage for raw audit payloads.
type PayloadStore struct {
	db       *pebble.DB
	hashAlgo string
}

// RefCount tracks which event/pid references a stored payload.
type RefCount struct {
	CID   string   `json:"cid"`
	Refs  int      `json:"refs"`
	RefBy []string `json:"ref_by"` // stable ids of referencing events
}

// NewPayloadStore opens a content-addressed store over db. hashAlgo is
// "sha256" (default, verifier-friendly) or "blake3".
func NewPayloadStore(db *pebble.DB, hashAlgo string) (*PayloadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: pebble DB is nil")
	}
	if hashAlgo == "" {
		hashAlgo = "sha256"
	}
	return &PayloadStore{db: db, hashAlgo: hashAlgo}, nil
}

func (c *PayloadStore) computeCID(data []byte) (string, error) {
	var hashType uint64
	switch c.hashAlgo {
	case "sha256":
		hashType = multihash.SHA2_256
	case "blake3":
		hashType = multihash.BLAKE3
	default:
		return "", fmt.Errorf("audit: unsupported hash algorithm: %s", c.hashAlgo)
	}
	mh, err := multihash.Sum(data, hashType, -1)
	if err != nil {
		return "", fmt.Errorf("audit: compute multihash: %w", err)
	}
	return mh.B58String(), nil
}

// Put stores data, deduplicated by content hash, and returns its CID.
func (c *PayloadStore) Put(data []byte) (string, error) {
	cid, err := c.computeCID(data)
	if err != nil {
		return "", err
	}
	exists, err := c.Has(cid)
	if err != nil {
		return "", err
	}
	if exists {
		return cid, nil
	}
	compressed, err := compressForStorage(data)
	if err != nil {
		return "", fmt.Errorf("audit: compress payload: %w", err)
	}
	if err := c.db.Set(casKey(cid), compressed, pebble.Sync); err != nil {
		return "", fmt.Errorf("audit: store payload: %w", err)
	}
	return cid, nil
}

// Get retrieves the original payload for cid.
func (c *PayloadStore) Get(cid string) ([]byte, error) {
	val, closer, err := c.db.Get(casKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("audit: cid not found: %s", cid)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	copied := append([]byte(nil), val...)
	return decompressFromStorage(copied)
}

// Has reports whether cid is already stored.
func (c *PayloadStore) Has(cid string) (bool, error) {
	_, closer, err := c.db.Get(casKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// AddReference records that refID (e.g. a store row id or pid) still
// needs cid's payload, so GarbageCollect won't reclaim it.
func (c *PayloadStore) AddReference(cid, refID string) error {
	key := refKey(cid)
	rc := RefCount{CID: cid}

	if val, closer, err := c.db.Get(key); err == nil {
		defer closer.Close()
		if err := json.Unmarshal(val, &rc); err != nil {
			return fmt.Errorf("audit: decode ref count: %w", err)
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	for _, f := range rc.RefBy {
		if f == refID {
			return nil
		}
	}
	rc.Refs++
	rc.RefBy = append(rc.RefBy, refID)

	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("audit: encode ref count: %w", err)
	}
	return c.db.Set(key, data, pebble.Sync)
}

// GetRefCount returns how many live references cid has.
func (c *PayloadStore) GetRefCount(cid string) (int, error) {
	val, closer, err := c.db.Get(refKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	var rc RefCount
	if err := json.Unmarshal(val, &rc); err != nil {
		return 0, fmt.Errorf("audit: decode ref count: %w", err)
	}
	return rc.Refs, nil
}

// GarbageCollect deletes every payload blob with zero live references.
func (c *PayloadStore) GarbageCollect() (int, error) {
	iter, err := newPrefixIter(c.db, PrefixCAS)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for iter.First(); iter.Valid(); iter.Next() {
		cid := stripPrefix(iter.Key(), PrefixCAS)
		refs, err := c.GetRefCount(cid)
		if err != nil {
			return deleted, fmt.Errorf("audit: ref count for %s: %w", cid, err)
		}
		if refs <= 0 {
			if err := c.db.Delete(casKey(cid), pebble.Sync); err != nil {
				return deleted, fmt.Errorf("audit: delete %s: %w", cid, err)
			}
			deleted++
		}
	}
	return deleted, iter.Error()
}

// Stats summarizes payload store occupancy.
type Stats struct {
	TotalObjects     int
	TotalSize        int64
	UnreferencedObjs int
}

// GetStats scans the store and reports occupancy counters.
func (c *PayloadStore) GetStats() (Stats, error) {
	var stats Stats

	referenced := make(map[string]bool)
	refsIter, err := newPrefixIter(c.db, metaRefPrefix)
	if err != nil {
		return stats, err
	}
	defer refsIter.Close()
	for refsIter.First(); refsIter.Valid(); refsIter.Next() {
		var rc RefCount
		if err := json.Unmarshal(refsIter.Value(), &rc); err != nil {
			return stats, err
		}
		if rc.Refs > 0 {
			referenced[rc.CID] = true
		}
	}
	if err := refsIter.Error(); err != nil {
		return stats, err
	}

	casIter, err := newPrefixIter(c.db, PrefixCAS)
	if err != nil {
		return stats, err
	}
	defer casIter.Close()
	for casIter.First(); casIter.Valid(); casIter.Next() {
		stats.TotalObjects++
		stats.TotalSize += int64(len(casIter.Value()))
		cid := stripPrefix(casIter.Key(), PrefixCAS)
		if !referenced[cid] {
			stats.UnreferencedObjs++
		}
	}
	return stats, casIter.Error()
}

var (
	zstdEncoderOnce sync.Once
	zstdDecoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdDecoder     *zstd.Decoder
	zstdInitErr     error
)

func getZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			zstdInitErr = err
			return
		}
		zstdEncoder = enc
	})
	return zstdEncoder, zstdInitErr
}

func getZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zstdInitErr = err
			return
		}
		zstdDecoder = dec
	})
	return zstdDecoder, zstdInitErr
}

func compressForStorage(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	dst := enc.EncodeAll(data, nil)
	return append([]byte(compressionMagic), dst...), nil
}

func decompressFromStorage(data []byte) ([]byte, error) {
	if len(data) < len(compressionMagic) || !bytes.Equal(data[:len(compressionMagic)], []byte(compressionMagic)) {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data[len(compressionMagic):], nil)
}

func casKey(cid string) []byte    { return []byte(PrefixCAS + cid) }
func refKey(cid string) []byte    { return []byte(metaRefPrefix + cid) }

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}

func stripPrefix(key []byte, prefix string) string {
	k := append([]byte(nil), key...)
	return strings.TrimPrefix(string(k), prefix)
}
