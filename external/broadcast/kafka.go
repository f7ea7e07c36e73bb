package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/mailbox"
	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaQueueSize    = 256
	kafkaWriteTimeout = 10 * time.Second
	sinkKafka         = "kafka"
)

type KafkaConfig struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaEvent struct {
	event   string
	room    string
	payload any
	at      time.Time
}

// KafkaEnvelope is the message value published for every transcript event.
type KafkaEnvelope struct {
	EventType string `json:"eventType"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// KafkaSink republishes partial and final room events to separate topics.
// Without brokers it runs in log-only mode.
type KafkaSink struct {
	partial messageWriter
	final   messageWriter
	enabled bool
	metrics *metrics.Metrics

	inbox *mailbox.Mailbox[kafkaEvent]
	done  chan struct{}
	once  sync.Once
}

func NewKafkaSink(cfg KafkaConfig, m *metrics.Metrics) *KafkaSink {
	if len(cfg.Brokers) == 0 {
		slog.Info("kafka disabled, using log-only mode")
		return newKafkaSink(nil, nil, m)
	}
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: kafkaWriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	slog.Info("kafka transcript sink initialized", "brokers", cfg.Brokers, "topic_partial", cfg.TopicPartial, "topic_final", cfg.TopicFinal)
	return newKafkaSink(newWriter(cfg.TopicPartial), newWriter(cfg.TopicFinal), m)
}

func newKafkaSink(partial, final messageWriter, m *metrics.Metrics) *KafkaSink {
	s := &KafkaSink{
		partial: partial,
		final:   final,
		enabled: partial != nil && final != nil,
		metrics: m,
		inbox:   mailbox.New[kafkaEvent](kafkaQueueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit queues partial and final events. Errors are not republished.
func (s *KafkaSink) Emit(event string, payload any, roomID string) {
	if event != room.EventPartial && event != room.EventFinal {
		return
	}
	err := s.inbox.TrySend(kafkaEvent{event: event, room: roomID, payload: payload, at: time.Now()})
	if errors.Is(err, mailbox.ErrFull) {
		slog.Warn("kafka sink queue full; dropping event", "event", event, "room", roomID)
		s.metrics.RecordSinkDelivery(sinkKafka, "dropped")
	}
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for ev := range s.inbox.Receive() {
		s.publish(ev)
	}
}

func (s *KafkaSink) publish(ev kafkaEvent) {
	value, err := json.Marshal(KafkaEnvelope{
		EventType: ev.event,
		Room:      ev.room,
		Timestamp: ev.at.UnixMilli(),
		Data:      ev.payload,
	})
	if err != nil {
		slog.Error("failed to marshal kafka event", "error", err, "event", ev.event)
		s.metrics.RecordSinkDelivery(sinkKafka, "error")
		return
	}
	if !s.enabled {
		slog.Debug("publishing transcript event", "event", ev.event, "room", ev.room, "payload", string(value))
		s.metrics.RecordSinkDelivery(sinkKafka, "logged")
		return
	}

	writer := s.partial
	if ev.event == room.EventFinal {
		writer = s.final
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(ev.room, ev.payload)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.event)},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()
	if err := writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to write to kafka", "error", err, "event", ev.event, "room", ev.room)
		s.metrics.RecordSinkDelivery(sinkKafka, "error")
		return
	}
	s.metrics.RecordSinkDelivery(sinkKafka, "ok")
}

// messageKey keeps one speaker's events on one partition.
func messageKey(roomID string, payload any) string {
	switch p := payload.(type) {
	case room.PartialPayload:
		return roomID + ":" + p.Participant
	case room.FinalPayload:
		return roomID + ":" + p.Participant
	}
	return roomID
}

// Close drains queued events, then closes both writers.
func (s *KafkaSink) Close() error {
	var err error
	s.once.Do(func() {
		s.inbox.Close()
		<-s.done
		if s.partial != nil {
			if e := s.partial.Close(); e != nil {
				slog.Error("error closing partial writer", "error", e)
				err = e
			}
		}
		if s.final != nil {
			if e := s.final.Close(); e != nil {
				slog.Error("error closing final writer", "error", e)
				err = e
			}
		}
	})
	return err
}
