// Package kafkasrc reads GeoJSON features from one Kafka partition.
package kafkasrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/dggs-query/internal/feature"
	"github.com/mohammed-shakir/dggs-query/internal/feature/geojsonsrc"
	mylog "github.com/mohammed-shakir/dggs-query/internal/logger"
	"github.com/mohammed-shakir/dggs-query/internal/metrics"
)

const sourceName = "kafka"

type Source struct {
	cfg      Config
	consumer sarama.Consumer
	logger   *slog.Logger
	zlog     *zerolog.Logger
}

var _ feature.Collection = (*Source)(nil)

// New wraps an existing consumer. zl receives per-message error events and
// may be nil.
func New(cfg Config, consumer sarama.Consumer, logger *slog.Logger, zl *zerolog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if zl == nil {
		nop := zerolog.Nop()
		zl = &nop
	}
	return &Source{cfg: cfg, consumer: consumer, logger: logger, zlog: zl}
}

// Dial connects a consumer to cfg.Brokers.
func Dial(cfg Config, logger *slog.Logger, zl *zerolog.Logger) (*Source, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Return.Errors = true
	c, err := sarama.NewConsumer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	return New(cfg, c, logger, zl), nil
}

func (s *Source) Close() error {
	return s.consumer.Close()
}

// Accepts reads the partition until MaxMessages, the high water mark or the
// idle timeout, whichever comes first, feeding each feature to v in offset
// order. A message that is not a GeoJSON Feature fails the read.
func (s *Source) Accepts(ctx context.Context, v feature.Visitor) error {
	offset := sarama.OffsetNewest
	if s.cfg.InitialOffsetOldest {
		offset = sarama.OffsetOldest
	}
	pc, err := s.consumer.ConsumePartition(s.cfg.Topic, s.cfg.Partition, offset)
	if err != nil {
		return fmt.Errorf("consume %s/%d: %w", s.cfg.Topic, s.cfg.Partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := s.cfg.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Second
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	s.logger.Debug("kafka source reading",
		"topic", s.cfg.Topic, "partition", s.cfg.Partition, "max", s.cfg.MaxMessages)

	n := 0
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka source: %w", ctx.Err())
		case <-timer.C:
			s.logger.Debug("kafka source idle", "read", n)
			return nil
		case cerr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			metrics.ObserveSourceMessage(sourceName, "consume")
			return fmt.Errorf("consume %s/%d: %w", s.cfg.Topic, s.cfg.Partition, cerr)
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			if err := s.processOne(ctx, msg, v); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			n++
			if s.cfg.MaxMessages > 0 && n >= s.cfg.MaxMessages {
				return nil
			}
			if msg.Offset+1 >= pc.HighWaterMarkOffset() {
				return nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		}
	}
}

var errVisit = errors.New("visitor rejected feature")

func (s *Source) processOne(ctx context.Context, msg *sarama.ConsumerMessage, v feature.Visitor) error {
	f, err := geojsonsrc.DecodeFeature(msg.Value)
	if err != nil {
		metrics.ObserveSourceMessage(sourceName, "decode")
		mylog.FromContext(mylog.WithComponent(ctx, "kafka_source"), s.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return fmt.Errorf("decode feature: %w", err)
	}
	if f.ID == "" {
		f.ID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	if err := v.Visit(f); err != nil {
		metrics.ObserveSourceMessage(sourceName, "visit")
		return fmt.Errorf("%w: %w", errVisit, err)
	}
	metrics.ObserveSourceMessage(sourceName, "ok")
	return nil
}
