package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ClearLedger/internal/observability"
)

// streamRetention is shared by every inbound stream: long enough to replay
// a weekend outage from the broker, short enough that the broker never
// becomes the event log (Postgres is).
const streamRetention = 72 * time.Hour

// NATSSubscriber feeds JetStream deliveries into the settler's raw-event
// channel. Each event type rides its own subject and durable consumer so a
// burst of price prints cannot starve block commits of broker-side credit.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is one undecoded delivery. Ack/Nak belong to the consumer of the
// channel: the message is acked only after the settler has taken it, so a
// crash between delivery and settlement redelivers rather than loses.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig binds a subject to the event type its payloads decode as.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "clear.trades.>", EventType: "TradeFill", ConsumerName: "settler-trades", StreamName: "CLEAR_TRADES"},
		{Subject: "clear.prices.>", EventType: "MarkPriceUpdate", ConsumerName: "settler-prices", StreamName: "CLEAR_PRICES"},
		{Subject: "clear.blocks.>", EventType: "BlockCommit", ConsumerName: "settler-blocks", StreamName: "CLEAR_BLOCKS"},
		{Subject: "clear.margin.allocate.>", EventType: "MarginAllocate", ConsumerName: "settler-margin-alloc", StreamName: "CLEAR_MARGIN"},
		{Subject: "clear.margin.release.>", EventType: "MarginRelease", ConsumerName: "settler-margin-release", StreamName: "CLEAR_MARGIN"},
		{Subject: "clear.contracts.>", EventType: "ContractParamUpdate", ConsumerName: "settler-contracts", StreamName: "CLEAR_CONTRACTS"},
		{Subject: "clear.depth.>", EventType: "BookDepthSnapshot", ConsumerName: "settler-depth", StreamName: "CLEAR_DEPTH"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       observability.NewLogger("nats_subscriber"),
	}
}

// Subscribe creates a durable consumer per subject and starts delivery.
// Explicit ack, five delivery attempts, 30s ack wait: a poisoned payload
// ends up parked after redelivery instead of wedging the stream.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(ns.deliver(ctx))
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}
		ns.consumers = append(ns.consumers, cc)

		ns.log.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}
	return nil
}

// deliver blocks on the raw-event channel; when the channel is full the
// broker holds the message, which is the backpressure we want.
func (ns *NATSSubscriber) deliver(ctx context.Context) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		raw := RawEvent{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}

		select {
		case ns.eventChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	}
}

// Stop halts delivery on every consumer. Durable state stays on the broker,
// so a restart resumes where the consumer left off.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("consumers stopped")
}

// EnsureStreams creates or updates the inbound JetStream streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	names := []struct {
		name    string
		subject string
	}{
		{"CLEAR_TRADES", "clear.trades.>"},
		{"CLEAR_PRICES", "clear.prices.>"},
		{"CLEAR_BLOCKS", "clear.blocks.>"},
		{"CLEAR_MARGIN", "clear.margin.>"},
		{"CLEAR_CONTRACTS", "clear.contracts.>"},
		{"CLEAR_DEPTH", "clear.depth.>"},
	}

	for _, s := range names {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      s.name,
			Subjects:  []string{s.subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    streamRetention,
			Replicas:  1,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", s.name, err)
		}
	}
	return nil
}

// ConnectNATS dials the broker with unbounded reconnects and returns the
// JetStream handle.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
