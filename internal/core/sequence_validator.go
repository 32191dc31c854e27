package core

import "fmt"

// SequenceValidator enforces per-partition ordering of upstream sequences.
// Trades, margin transfers and contract updates are strict: a gap rejects
// the event and the partition stays parked until the missing sequence
// arrives. Oracle prints are last-seen: stale prints drop silently and gaps
// pass, since only the newest price matters to settlement.
// Not thread-safe; only the settler touches it.
type SequenceValidator struct {
	next map[string]int64 // partition -> next expected (or last seen, for prices)
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{next: make(map[string]int64)}
}

// ValidateSequence applies the strict rule and advances the partition on an
// exact match. A sequence below expected is fine only when the idempotency
// layer already identified the event as a duplicate; a new event arriving
// below expected means the upstream reordered, which is an error.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	idempotencyKey string,
	isDuplicate bool,
) error {
	expected := sv.next[partition]

	switch {
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)

	case sourceSequence == expected:
		sv.next[partition] = expected + 1
		return nil

	default:
		return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}
}

// ValidatePriceSequence applies the last-seen rule for oracle prints.
func (sv *SequenceValidator) ValidatePriceSequence(contractID string, priceSequence int64) error {
	partition := "price:" + contractID
	if priceSequence <= sv.next[partition] {
		return nil
	}
	sv.next[partition] = priceSequence
	return nil
}

// Snapshot copies the per-partition state for warm restart.
func (sv *SequenceValidator) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(sv.next))
	for k, v := range sv.next {
		out[k] = v
	}
	return out
}

// Restore overwrites the per-partition state from a snapshot.
func (sv *SequenceValidator) Restore(state map[string]int64) {
	sv.next = make(map[string]int64, len(state))
	for k, v := range state {
		sv.next[k] = v
	}
}
