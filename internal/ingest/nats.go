package ingest

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"pokealert/internal/clock"
	"pokealert/internal/config"
	"pokealert/internal/domain"
)

// NATSSubscriber consumes webhook payloads from a JetStream queue
// consumer and forwards decoded events to the sink.
// Params: NATS connection, queue subscription, and event sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	clk    clock.Clock
	logger *slog.Logger
}

// NewNATSSubscriber creates the JetStream queue consumer feed.
// Params: ingest NATS config, sink, receive clock, and logger.
// Returns: started subscriber or initialization error. Payloads carry
// the same {type, message} envelopes as the HTTP webhook; malformed
// messages are acked and dropped, sink failures nack for redelivery.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink EventSink, clk clock.Clock, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{nc: nc, clk: clk, logger: logger}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.Consumer),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		subscriber.handle(message, sink)
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// handle processes one JetStream message.
// Params: message and event sink.
// Returns: none; ack/nack decided by decode and push outcomes.
func (s *NATSSubscriber) handle(message *nats.Msg, sink EventSink) {
	envelopes, err := DecodeEnvelopes(message.Data)
	if err != nil {
		s.logger.Warn("nats ingest decode failed",
			slog.String("subject", message.Subject),
			slog.String("error", err.Error()))
		s.ackMessage(message, "decode")
		return
	}

	for _, envelope := range envelopes {
		kind, err := domain.KindFromWebhookType(envelope.Type)
		if err != nil {
			s.logger.Debug("nats ingest skipping unknown type",
				slog.String("type", envelope.Type))
			continue
		}
		event, err := domain.FromWebhook(kind, envelope.Message, s.clk.Now())
		if err != nil {
			s.logger.Warn("nats ingest message rejected",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()))
			continue
		}
		if err := sink.Push(event); err != nil {
			s.logger.Error("nats ingest push failed",
				slog.String("subject", message.Subject),
				slog.String("error", err.Error()))
			s.nackMessage(message)
			return
		}
	}
	s.ackMessage(message, "processed")
}

// ackMessage acknowledges one message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed",
			slog.String("subject", message.Subject),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
	}
}

// nackMessage asks JetStream to redeliver one message.
// Params: JetStream message.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg) {
	if err := message.Nak(); err != nil {
		s.logger.Warn("nats ingest nack failed",
			slog.String("subject", message.Subject),
			slog.String("error", err.Error()))
	}
}

// Close stops the subscription and closes the connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
