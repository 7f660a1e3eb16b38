package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStream delivers order events through a JetStream durable consumer, so
// a terminal that drops off the broker briefly picks up what it missed.
type NATSStream struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	consumer jetstream.Consumer
	logger   apt.Logger
	consume  jetstream.ConsumeContext
}

type NATSStreamConfig struct {
	URL          string
	StreamName   string   // e.g. "POS_ORDERS"
	Subjects     []string // subjects captured by the stream
	Topic        string   // subject this consumer is filtered on
	ConsumerName string   // durable name, one per terminal
	MaxAge       time.Duration
	MaxMsgs      int64
	// InactiveThreshold removes the durable consumer of a terminal that has
	// been gone that long. Zero keeps it forever.
	InactiveThreshold time.Duration
}

func (c NATSStreamConfig) withDefaults() NATSStreamConfig {
	if len(c.Subjects) == 0 && c.Topic != "" {
		c.Subjects = []string{c.Topic}
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	return c
}

func (c NATSStreamConfig) validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("nats stream: url is required")
	case c.StreamName == "":
		return fmt.Errorf("nats stream: stream name is required")
	case c.Topic == "":
		return fmt.Errorf("nats stream: topic is required")
	case c.ConsumerName == "":
		return fmt.Errorf("nats stream: consumer name is required")
	}
	return nil
}

// NewNATSStream ensures the stream and this terminal's consumer exist. The
// consumer starts at new messages since the view is warmed from the store.
func NewNATSStream(ctx context.Context, cfg NATSStreamConfig, logger apt.Logger) (*NATSStream, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	conn, err := ConnectNATS(cfg.URL, cfg.ConsumerName, logger)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamConfig := jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: cfg.Subjects,
		MaxAge:   cfg.MaxAge,
	}
	if cfg.MaxMsgs > 0 {
		streamConfig.MaxMsgs = cfg.MaxMsgs
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              cfg.ConsumerName,
		Durable:           cfg.ConsumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		FilterSubject:     cfg.Topic,
		InactiveThreshold: cfg.InactiveThreshold,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.ConsumerName, err)
	}

	logger.Info("NATS stream ready", "stream", cfg.StreamName, "consumer", cfg.ConsumerName)
	return &NATSStream{
		conn:     conn,
		js:       js,
		stream:   stream,
		consumer: consumer,
		logger:   logger,
	}, nil
}

func (s *NATSStream) Publish(ctx context.Context, topic string, msg []byte) error {
	if _, err := s.js.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// Subscribe implements events.Subscriber. The topic must match the one the
// consumer is filtered on. Failed messages are redelivered.
func (s *NATSStream) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	if filter := s.consumer.CachedInfo().Config.FilterSubject; filter != "" && filter != topic {
		return fmt.Errorf("stream consumer is bound to %s, not %s", filter, topic)
	}

	cc, err := s.consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Data()); err != nil {
			s.logger.Error("stream handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				s.logger.Debug("cannot nak message", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			s.logger.Debug("cannot ack message", "error", ackErr)
		}
	})
	if err != nil {
		return fmt.Errorf("cannot consume %s: %w", topic, err)
	}
	s.consume = cc
	return nil
}

func (s *NATSStream) Close() error {
	if s.consume != nil {
		s.consume.Stop()
	}
	s.conn.Close()
	return nil
}
