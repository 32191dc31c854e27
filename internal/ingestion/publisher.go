package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ClearLedger/internal/observability"
)

// OutboundPublisher re-publishes settled outputs for downstream consumers
// (risk dashboards, reconciliation jobs). Events enter the channel only
// after the persist send succeeded, so a subscriber never sees a block the
// event log doesn't have. Subjects: clear.ledger.events.{type}[.{contract}].
type OutboundPublisher struct {
	js    jetstream.JetStream
	input <-chan PublishableEvent
	log   zerolog.Logger
}

// PublishableEvent is one settled output on the outbound stream.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	ContractID     *string     `json:"contract_id,omitempty"`
	BlockHeight    int64       `json:"block_height"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:    js,
		input: inputChan,
		log:   observability.NewLogger("publisher"),
	}
}

// Run drains the publish channel until it closes or the context ends.
// Publish failures are logged and skipped: the event log in Postgres is the
// source of truth, the stream is a convenience feed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.input:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				op.log.Warn().
					Err(err).
					Int64("sequence", evt.Sequence).
					Str("event_type", evt.EventType).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}

	subject := "clear.ledger.events." + evt.EventType
	if evt.ContractID != nil {
		subject += "." + *evt.ContractID
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates or updates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "CLEAR_LEDGER_EVENTS",
		Subjects:  []string{"clear.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
