package audit

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/cbergoon/merkletree"
)

// cidContent adapts a CID string to merkletree.Content, the same
// shape as merkle.Content's wrapper around a file CID.
type cidContent struct {
	cid string
}

func newCIDContent(cid string) cidContent {
	return cidContent{cid: cid}
}

func (c cidContent) CalculateHash() ([]byte, error) {
	h := sha256.Sum256([]byte(c.cid))
	return h[:], nil
}

func (c cidContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(cidContent)
	if !ok {
		return false, fmt.Errorf("audit: incompatible content type")
	}
	return c.cid == o.cid, nil
}

// BatchIntegrity records the Merkle root committed for one batch of
// published-result CIDs, so a verifier can later recompute the root
// from the same CID list and compare.
type BatchIntegrity struct {
	BatchID string   `json:"batch_id"`
	CIDs    []string `json:"cids"`
	Root    []byte   `json:"root"`
	Valid   bool     `json:"valid"`
}

// RootManager builds and caches Merkle trees over batches of result
// CIDs, letting an auditor verify that a committed batch wasn't
// altered after the fact. Adapted from merkle.MerkleManager, replacing
// its per-file CID list with a per-batch result CID list.
type RootManager struct {
	mu    sync.RWMutex
	cache map[string]*merkletree.MerkleTree
}

// NewRootManager builds an empty RootManager.
func NewRootManager() *RootManager {
	return &RootManager{cache: make(map[string]*merkletree.MerkleTree)}
}

// BuildAndCache builds a Merkle tree over cids, caches it under
// batchID, and returns the batch's integrity record.
func (m *RootManager) BuildAndCache(batchID string, cids []string) (BatchIntegrity, error) {
	if len(cids) == 0 {
		return BatchIntegrity{}, fmt.Errorf("audit: batch %s has no CIDs", batchID)
	}

	contents := make([]merkletree.Content, 0, len(cids))
	for _, cid := range cids {
		contents = append(contents, newCIDContent(cid))
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return BatchIntegrity{}, fmt.Errorf("audit: build merkle tree for batch %s: %w", batchID, err)
	}

	m.mu.Lock()
	m.cache[batchID] = tree
	m.mu.Unlock()

	return BatchIntegrity{
		BatchID: batchID,
		CIDs:    cids,
		Root:    tree.MerkleRoot(),
		Valid:   true,
	}, nil
}

// GetCachedTree returns the tree built for batchID, if still cached.
func (m *RootManager) GetCachedTree(batchID string) (*merkletree.MerkleTree, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.cache[batchID]
	return tree, ok
}

// ClearCache drops every cached tree, e.g. after the batches have been
// committed to durable storage and no longer need in-memory proofs.
func (m *RootManager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*merkletree.MerkleTree)
}

// VerifyBatch recomputes a Merkle tree from cids and reports whether
// its root matches want, detecting whether the batch was tampered
// with or reordered since it was committed.
func VerifyBatch(cids []string, want []byte) (bool, error) {
	if len(cids) == 0 {
		return false, fmt.Errorf("audit: empty CID list")
	}
	contents := make([]merkletree.Content, 0, len(cids))
	for _, cid := range cids {
		contents = append(contents, newCIDContent(cid))
	}
	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return false, fmt.Errorf("audit: rebuild merkle tree: %w", err)
	}
	return bytes.Equal(tree.MerkleRoot(), want), nil
}

// VerifyTree checks a cached tree's internal consistency (every
// subtree hash still matches its children).
func (m *RootManager) VerifyTree(batchID string) (bool, error) {
	tree, ok := m.GetCachedTree(batchID)
	if !ok {
		return false, fmt.Errorf("audit: no cached tree for batch %s", batchID)
	}
	return tree.VerifyTree()
}
