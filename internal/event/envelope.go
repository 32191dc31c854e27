package event

import "time"

// EventType discriminates payloads in the settlement log.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTradeFill
	EventTypeMarkPriceUpdate
	EventTypeBlockCommit
	EventTypeMarginAllocate
	EventTypeMarginRelease
	EventTypeContractParamUpdate
	EventTypeBookDepthSnapshot
	EventTypeFundingRateSnapshot
)

// Event is implemented by every payload the settler accepts.
type Event interface {
	// IdempotencyKey is the stable upstream dedup key.
	IdempotencyKey() string

	EventType() EventType

	// ContractID is nil for events without contract context.
	ContractID() *string

	// SourceSequence orders events within their upstream partition.
	SourceSequence() int64
}

// EventEnvelope is the persisted record of one applied event. Sequence is
// assigned by the settler; StateHash/PrevHash chain the envelope to its
// predecessor so any replica can audit the log end to end. Timestamp is the
// event's own versioned time, never the settler's wall clock.
type EventEnvelope struct {
	Sequence       int64
	IdempotencyKey string
	EventType      EventType
	ContractID     *string
	BlockHeight    int64
	Timestamp      time.Time
	SourceSequence int64
	Payload        []byte // JSON-encoded payload
	StateHash      [32]byte
	PrevHash       [32]byte
}

func (et EventType) String() string {
	switch et {
	case EventTypeTradeFill:
		return "TradeFill"
	case EventTypeMarkPriceUpdate:
		return "MarkPriceUpdate"
	case EventTypeBlockCommit:
		return "BlockCommit"
	case EventTypeMarginAllocate:
		return "MarginAllocate"
	case EventTypeMarginRelease:
		return "MarginRelease"
	case EventTypeContractParamUpdate:
		return "ContractParamUpdate"
	case EventTypeBookDepthSnapshot:
		return "BookDepthSnapshot"
	case EventTypeFundingRateSnapshot:
		return "FundingRateSnapshot"
	default:
		return "Unknown"
	}
}
