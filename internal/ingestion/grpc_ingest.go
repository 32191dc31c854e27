package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ClearLedger/internal/event"
)

// GRPCIngestService provides admin/manual event injection via gRPC.
// gRPC ingest is for admin operations and manual event injection, not for
// high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	eventChan chan<- event.Event
}

func NewGRPCIngestService(eventChan chan<- event.Event) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// InjectMarginAllocate manually injects a MarginAllocate event.
func (s *GRPCIngestService) InjectMarginAllocate(
	ctx context.Context,
	address, contractID string,
	amount int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if address == "" || contractID == "" {
		return fmt.Errorf("address and contract are required")
	}

	evt := &event.MarginAllocate{
		TransferID: uuid.New(),
		Address:    address,
		Contract:   contractID,
		Amount:     amount,
		Sequence:   time.Now().UnixMicro(), // Admin-injected: use timestamp as sequence
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectMarginRelease manually injects a MarginRelease event.
func (s *GRPCIngestService) InjectMarginRelease(
	ctx context.Context,
	address, contractID string,
	amount int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if address == "" || contractID == "" {
		return fmt.Errorf("address and contract are required")
	}

	evt := &event.MarginRelease{
		TransferID: uuid.New(),
		Address:    address,
		Contract:   contractID,
		Amount:     amount,
		Sequence:   time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectContractParams manually registers or updates a contract.
func (s *GRPCIngestService) InjectContractParams(
	ctx context.Context,
	params *event.ContractParamUpdate,
) error {
	if params.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if params.NotionalValue <= 0 || params.Leverage <= 0 {
		return fmt.Errorf("notional_value and leverage must be positive")
	}
	if params.Sequence == 0 {
		params.Sequence = time.Now().UnixMicro()
	}

	select {
	case s.eventChan <- params:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
