package feed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/herald-io/herald/cfg"
	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/model"
)

const kafkaEventBuffer = 1024

func init() {
	RegisterSource("kafka", func(config cfg.FeedConfiguration) (Source, error) {
		return NewKafkaSource(config.Kafka.Brokers, config.Kafka.Topic, config.Kafka.GroupID)
	})
}

// KafkaSource consumes change events from a Kafka topic.
type KafkaSource struct {
	reader *kafka.Reader
	events chan *model.ChangeEvent
	cancel context.CancelFunc
}

// NewKafkaSource creates a consumer and starts its read loop.
func NewKafkaSource(brokers []string, topic, groupID string) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka feed source requires at least one broker address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		events: make(chan *model.ChangeEvent, kafkaEventBuffer),
		cancel: cancel,
	}

	go s.readLoop(ctx)
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka feed source connected")
	return s, nil
}

func (s *KafkaSource) readLoop(ctx context.Context) {
	defer close(s.events)

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			log.Error().Err(err).Msg("Kafka read failed")
			return
		}

		var ev model.ChangeEvent
		if err := encoding.Unmarshal(msg.Value, &ev); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to decode change event")
			continue
		}
		s.events <- &ev
	}
}

// Events implements Source.
func (s *KafkaSource) Events() <-chan *model.ChangeEvent {
	return s.events
}

// Close implements Source.
func (s *KafkaSource) Close() error {
	s.cancel()
	return s.reader.Close()
}
