// Package consumer feeds bus messages to the engine one at a time and commits
// each offset only after its event was applied.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"cspdns/internal/config"
	"cspdns/internal/engine"
	"cspdns/internal/metrics"
)

// Reader is the part of *kafka.Reader the loop uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, value []byte) (engine.Result, error)
}

// NewKafkaReader joins the consumer group. A group with no committed offset
// starts from the oldest message.
func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.Group,
		StartOffset: kafka.FirstOffset,
		// commits are explicit
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
	})
}

type Consumer struct {
	log        *logrus.Entry
	reader     Reader
	handler    Handler
	watchdog   *Watchdog
	metrics    *metrics.Metrics
	retryDelay time.Duration
}

func New(log *logrus.Entry, reader Reader, handler Handler, wd *Watchdog, m *metrics.Metrics, retryDelay time.Duration) *Consumer {
	return &Consumer{
		log:        log,
		reader:     reader,
		handler:    handler,
		watchdog:   wd,
		metrics:    m,
		retryDelay: retryDelay,
	}
}

// Run processes messages until ctx is done, which returns nil, or until an
// event cannot be applied, which returns an error wrapping engine.ErrApply.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consuming events")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.ObserveError(metrics.KindFetch)
			return fmt.Errorf("fetch message: %w", err)
		}
		c.watchdog.Beat()
		c.metrics.MarkEvent(time.Now())

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	log := c.log.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset})

	var res engine.Result
	for {
		var err error
		res, err = c.handler.Handle(ctx, msg.Value)
		if err == nil {
			break
		}
		if !errors.Is(err, engine.ErrTransient) {
			c.metrics.ObserveError(metrics.KindApply)
			log.WithError(err).Error("failed to apply event")
			return err
		}

		c.metrics.ObserveError(metrics.KindTransient)
		log.WithError(err).WithField("retryIn", c.retryDelay).Warn("orchestration api failure, offset not committed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}

	for _, o := range res.Outcomes {
		c.metrics.ObserveOutcome(string(o))
	}
	c.metrics.AddRecords(res.RecordsWritten, res.RecordsDeleted)

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.metrics.ObserveError(metrics.KindCommit)
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	log.WithField("outcomes", res.Outcomes).Debug("offset committed")
	return nil
}
