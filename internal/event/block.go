package event

import (
	"fmt"
	"time"
)

// BlockCommit marks a block of the shared transaction log as complete and
// triggers its settlement. Heights must arrive strictly increasing; the
// settler rejects gaps and replays.
type BlockCommit struct {
	Height     int64
	TradeCount int64
	Timestamp  time.Time // Versioned input timestamp (NOT wall-clock)
}

func (b *BlockCommit) IdempotencyKey() string {
	return fmt.Sprintf("block:%d", b.Height)
}

func (b *BlockCommit) EventType() EventType {
	return EventTypeBlockCommit
}

func (b *BlockCommit) ContractID() *string {
	return nil // Global event
}

func (b *BlockCommit) SourceSequence() int64 {
	return b.Height
}
