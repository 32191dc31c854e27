package core

import (
	"time"

	"ClearLedger/internal/contract"
	"ClearLedger/internal/iou"
	"ClearLedger/internal/ledger"
	"ClearLedger/internal/position"
)

// SnapshotState is the settler's full in-memory state at a sequence
// boundary. The shell converts it to and from the persisted snapshot
// format so core stays free of storage concerns.
type SnapshotState struct {
	Sequence  int64
	LastBlock int64
	StateHash [32]byte

	Contracts []contract.Info
	Tallies   map[ledger.TallyKey]ledger.Tally
	Supply    map[ledger.AssetID]int64
	Positions []*position.Position

	IOUBuckets map[iou.BucketKey]iou.Bucket
	IOUClaims  map[iou.BucketKey]map[string]int64

	SequenceState   map[string]int64
	LastEventTime   time.Time
	IdempotencyKeys []string
}

// CreateSnapshotState captures the settler's current state. Must only be
// called between events (the settler is single-threaded, so any point in
// the shell's drain loop qualifies).
func (s *DeterministicSettler) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        s.sequence - 1,
		LastBlock:       s.lastBlock,
		StateHash:       s.hasher.GetPrevHash(),
		Tallies:         s.balances.Snapshot(),
		Supply:          make(map[ledger.AssetID]int64),
		Positions:       s.positions.Snapshot(),
		SequenceState:   s.sequenceValidator.Snapshot(),
		LastEventTime:   s.lastEventTime,
		IdempotencyKeys: s.idempotency.lru.Keys(),
	}

	for _, assetID := range s.balances.Assets() {
		snap.Supply[assetID] = s.balances.CirculatingSupply(assetID)
	}

	for _, contractID := range s.registry.GetAllContracts() {
		if info, ok := s.registry.GetContractInfo(contractID); ok {
			snap.Contracts = append(snap.Contracts, *info)
		}
	}

	snap.IOUBuckets, snap.IOUClaims = s.ious.Snapshot()
	return snap
}

// RestoreFromSnapshot overwrites the settler's state. Must run before the
// first ProcessEvent call. Price and trade caches are not part of the
// snapshot; they refill from oracle prints after restart and positions
// carry their own LastMark for mark-to-market continuity.
func (s *DeterministicSettler) RestoreFromSnapshot(snap *SnapshotState) error {
	for i := range snap.Contracts {
		info := snap.Contracts[i]
		if err := s.registry.Register(&info); err != nil {
			return err
		}
	}

	s.balances.Restore(snap.Tallies, snap.Supply)
	for _, pos := range snap.Positions {
		s.positions.SetPosition(pos)
	}
	s.ious.Restore(snap.IOUBuckets, snap.IOUClaims)
	s.sequenceValidator.Restore(snap.SequenceState)
	s.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	s.sequence = snap.Sequence + 1
	s.lastBlock = snap.LastBlock
	s.lastEventTime = snap.LastEventTime
	s.hasher.RestoreTip(snap.StateHash)
	return nil
}
