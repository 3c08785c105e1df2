package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const dueHeader = "due_ms"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, confirmTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			WriteTimeout:           confirmTimeout,
			AllowAutoTopicCreation: true,
		},
		timeout: confirmTimeout,
	}, nil
}

// PublishBatch writes the whole batch in one call. Per-message errors name
// exactly which entries the brokers did not acknowledge.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, class Class, entries []pool.Entry) ([]pool.Entry, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("unknown dispatch class %q", class)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	msgs := make([]kafka.Message, len(entries))
	for i, e := range entries {
		msgs[i] = kafka.Message{
			Topic:   class.Topic(),
			Key:     []byte(e.ID),
			Value:   []byte(e.ID),
			Headers: []kafka.Header{{Key: dueHeader, Value: []byte(strconv.FormatInt(e.Score, 10))}},
			Time:    now,
		}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return nil, nil
	}

	var writeErrs kafka.WriteErrors
	if !errors.As(err, &writeErrs) {
		logrus.WithField("class", class).Error(err.Error())
		return entries, nil
	}

	var failed []pool.Entry
	for i, werr := range writeErrs {
		if werr != nil && i < len(entries) {
			logrus.WithFields(logrus.Fields{"class": class, "id": entries[i].ID}).Error(werr.Error())
			failed = append(failed, entries[i])
		}
	}
	return failed, nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer runs one consumer-group reader per worker slot. An offset is
// committed once its message has been handled.
type KafkaConsumer struct {
	q       *Queue
	readers []messageReader
	retry   func() backoff.BackOff
}

func NewKafkaConsumer(q *Queue, brokers []string, groupID string, slots int) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if slots <= 0 {
		slots = 1
	}

	readers := make([]messageReader, slots)
	for i := range readers {
		readers[i] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			GroupTopics: []string{ClassPost.Topic(), ClassCredential.Topic()},
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
		})
	}
	return newKafkaConsumer(q, readers), nil
}

func newKafkaConsumer(q *Queue, readers []messageReader) *KafkaConsumer {
	return &KafkaConsumer{
		q:       q,
		readers: readers,
		retry: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
		},
	}
}

// Run blocks until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range c.readers {
		wg.Add(1)
		go func(r messageReader) {
			defer wg.Done()
			c.consume(ctx, r)
		}(r)
	}
	wg.Wait()
}

func (c *KafkaConsumer) consume(ctx context.Context, r messageReader) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.Error(err.Error())
			continue
		}

		err = backoff.Retry(func() error {
			return c.handle(ctx, msg)
		}, backoff.WithContext(c.retry(), ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{"topic": msg.Topic, "offset": msg.Offset}).Error("giving up on message: " + err.Error())
		}

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{"topic": msg.Topic, "offset": msg.Offset}).Error(err.Error())
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	class, ok := classOfTopic(msg.Topic)
	if !ok {
		logrus.WithField("topic", msg.Topic).Warn("message on unknown topic")
		return nil
	}
	id, err := parseID(msg.Value)
	if err != nil {
		logrus.Error(err.Error())
		return nil
	}

	// Scanners dispatch up to one interval early; hold the message until due.
	if wait := time.Until(dueOf(msg)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return backoff.Permanent(ctx.Err())
		case <-timer.C:
		}
	}

	if class == ClassCredential {
		c.q.refreshIDs(ctx, []int64{id})
		return nil
	}
	return c.q.publish.Publish(ctx, id)
}

func dueOf(msg kafka.Message) time.Time {
	for _, h := range msg.Headers {
		if h.Key == dueHeader {
			if ms, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return time.Time{}
}

func (c *KafkaConsumer) Close() error {
	var errs []error
	for _, r := range c.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
