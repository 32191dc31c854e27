package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "ClearLedger:genesis:v1"

// StateHasher carries the settlement hash chain:
// tip[N] = SHA-256(tip[N-1] || sequence || digest). Replicas that applied
// the same event stream share a tip; a diverging tip pins the first
// sequence where their state digests differed.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash extends the chain with one applied event and returns the new
// tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(sequence))

	hasher := sha256.New()
	hasher.Write(h.tip[:])
	hasher.Write(seq[:])
	hasher.Write(stateDigest)
	copy(h.tip[:], hasher.Sum(nil))

	return h.tip
}

// RestoreTip resets the chain to a snapshotted tip.
func (h *StateHasher) RestoreTip(tip [32]byte) {
	h.tip = tip
}

// GetPrevHash returns the current tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.tip
}
