package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/vidflow/vidflow/pkg/config"
)

const (
	headerRetryCount  = "vf-run-retry-count"
	headerRetryAt     = "vf-run-retry-at"
	headerOriginTopic = "vf-run-origin-topic"
	headerDLQError    = "vf-run-dlq-error"

	defaultRetryLimit = 3
	defaultBackoff    = 10 * time.Second
)

var ErrNotConfigured = errors.New("run queue is not configured")

// RunHandler executes one dispatched run. Returning a context error leaves the
// message uncommitted so it is redelivered.
type RunHandler func(ctx context.Context, runID uuid.UUID) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type runMessage struct {
	RunID      uuid.UUID `json:"run_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RunQueue carries run ids from the api-server to executors.
type RunQueue struct {
	writer      messageWriter
	retryWriter messageWriter
	dlqWriter   messageWriter
	reader      messageReader
	retryReader messageReader
	topic       string
	retryTopic  string
	dlqTopic    string
	maxRetry    int
	backoff     time.Duration
	readers     sync.WaitGroup
}

func newWriter(brokers []string, clientID string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			ClientID: clientID,
		},
		RequiredAcks: int(kafka.RequireAll),
	})
}

func newReader(brokers []string, clientID, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
		Dialer: &kafka.Dialer{
			ClientID: clientID,
		},
	})
}

// NewProducer builds a queue that only enqueues, as the api-server does.
func NewProducer(cfg *config.KafkaConfig) *RunQueue {
	return &RunQueue{
		writer: newWriter(cfg.Brokers, cfg.ClientID),
		topic:  cfg.RunTopic,
	}
}

// NewConsumer builds a queue that consumes the run topic and its retry topic.
func NewConsumer(cfg *config.KafkaConfig) *RunQueue {
	q := &RunQueue{
		writer:     newWriter(cfg.Brokers, cfg.ClientID),
		reader:     newReader(cfg.Brokers, cfg.ClientID, cfg.RunGroup, cfg.RunTopic),
		topic:      cfg.RunTopic,
		retryTopic: cfg.RunRetryTopic,
		dlqTopic:   cfg.RunDLQTopic,
		maxRetry:   cfg.RunRetryLimit,
		backoff:    defaultBackoff,
	}
	if q.maxRetry <= 0 {
		q.maxRetry = defaultRetryLimit
	}
	if cfg.RunRetryTopic != "" {
		q.retryWriter = newWriter(cfg.Brokers, cfg.ClientID)
		q.retryReader = newReader(cfg.Brokers, cfg.ClientID, cfg.RunGroup, cfg.RunRetryTopic)
	}
	if cfg.RunDLQTopic != "" {
		q.dlqWriter = newWriter(cfg.Brokers, cfg.ClientID)
	}
	return q
}

// Dispatch enqueues a run for an executor.
func (q *RunQueue) Dispatch(ctx context.Context, runID uuid.UUID) error {
	if q.writer == nil {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(runMessage{RunID: runID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal run message: %w", err)
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Topic: q.topic,
		Key:   []byte(runID.String()),
		Value: payload,
		Time:  time.Now(),
	})
}

// Consume hands messages to handler one at a time until ctx is done or a reader fails.
func (q *RunQueue) Consume(ctx context.Context, handler RunHandler) error {
	if q.reader == nil {
		return ErrNotConfigured
	}
	if handler == nil {
		return errors.New("run handler is required")
	}

	messageCh := make(chan queuedMessage, 2)
	errCh := make(chan error, 2)

	q.readers.Add(1)
	go q.consumeReader(ctx, q.reader, false, messageCh, errCh)

	if q.retryReader != nil && q.retryTopic != "" {
		q.readers.Add(1)
		go q.consumeReader(ctx, q.retryReader, true, messageCh, errCh)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case msg := <-messageCh:
			if err := q.handleMessage(ctx, msg, handler); err != nil {
				return err
			}
		}
	}
}

type queuedMessage struct {
	reader  messageReader
	message kafka.Message
}

// consumeReader forwards fetched messages to the handling loop. The retry reader
// holds each message until its retry time, which pauses only that reader.
func (q *RunQueue) consumeReader(ctx context.Context, reader messageReader, delayed bool, messageCh chan<- queuedMessage, errCh chan<- error) {
	defer q.readers.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}
		if delayed && !waitForRetry(ctx, msg) {
			return
		}
		select {
		case messageCh <- queuedMessage{reader: reader, message: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func waitForRetry(ctx context.Context, message kafka.Message) bool {
	retryAt := retryTime(message)
	if retryAt.IsZero() {
		return true
	}
	delay := time.Until(retryAt)
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (q *RunQueue) handleMessage(ctx context.Context, msg queuedMessage, handler RunHandler) error {
	runID, err := decodeRun(msg.message)
	if err != nil {
		// a payload that cannot decode never will; skip retries
		return q.deadLetter(ctx, msg, err)
	}

	if err := handler(ctx, runID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return q.handleFailure(ctx, msg, err)
	}
	if err := msg.reader.CommitMessages(ctx, msg.message); err != nil {
		return fmt.Errorf("commit run offset: %w", err)
	}
	return nil
}

func decodeRun(message kafka.Message) (uuid.UUID, error) {
	var payload runMessage
	if err := json.Unmarshal(message.Value, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("unmarshal run message: %w", err)
	}
	if payload.RunID == uuid.Nil {
		return uuid.Nil, errors.New("run message has no run id")
	}
	return payload.RunID, nil
}

func (q *RunQueue) handleFailure(ctx context.Context, msg queuedMessage, handlerErr error) error {
	retryCount := retryAttempt(msg.message)
	if retryCount < q.maxRetry && q.retryTopic != "" {
		retryAt := time.Now().Add(q.calculateBackoff(retryCount + 1))
		headers := appendHeaders(msg.message.Headers,
			kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(retryCount + 1))},
			kafka.Header{Key: headerRetryAt, Value: []byte(retryAt.Format(time.RFC3339Nano))},
			kafka.Header{Key: headerOriginTopic, Value: []byte(msg.message.Topic)},
		)
		if err := q.publish(ctx, q.retryWriter, q.retryTopic, msg.message.Key, msg.message.Value, headers); err != nil {
			return err
		}
		if err := msg.reader.CommitMessages(ctx, msg.message); err != nil {
			return fmt.Errorf("commit run offset: %w", err)
		}
		return nil
	}
	return q.deadLetter(ctx, msg, handlerErr)
}

func (q *RunQueue) deadLetter(ctx context.Context, msg queuedMessage, cause error) error {
	if q.dlqTopic == "" {
		return cause
	}
	headers := appendHeaders(msg.message.Headers,
		kafka.Header{Key: headerOriginTopic, Value: []byte(msg.message.Topic)},
		kafka.Header{Key: headerDLQError, Value: []byte(cause.Error())},
	)
	if err := q.publish(ctx, q.dlqWriter, q.dlqTopic, msg.message.Key, msg.message.Value, headers); err != nil {
		return err
	}
	if err := msg.reader.CommitMessages(ctx, msg.message); err != nil {
		return fmt.Errorf("commit run offset: %w", err)
	}
	return nil
}

func (q *RunQueue) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := q.backoff
	if base <= 0 {
		base = defaultBackoff
	}
	return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
}

func retryAttempt(message kafka.Message) int {
	for _, header := range message.Headers {
		if header.Key == headerRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
			return 0
		}
	}
	return 0
}

func retryTime(message kafka.Message) time.Time {
	for _, header := range message.Headers {
		if header.Key == headerRetryAt {
			parsed, err := time.Parse(time.RFC3339Nano, string(header.Value))
			if err == nil {
				return parsed
			}
			return time.Time{}
		}
	}
	return time.Time{}
}

func appendHeaders(existing []kafka.Header, headers ...kafka.Header) []kafka.Header {
	merged := make([]kafka.Header, 0, len(existing)+len(headers))
	merged = append(merged, existing...)
	for _, h := range headers {
		merged = replaceHeader(merged, h)
	}
	return merged
}

func replaceHeader(headers []kafka.Header, header kafka.Header) []kafka.Header {
	for i := range headers {
		if headers[i].Key == header.Key {
			headers[i] = header
			return headers
		}
	}
	return append(headers, header)
}

func (q *RunQueue) publish(ctx context.Context, writer messageWriter, topic string, key, value []byte, headers []kafka.Header) error {
	if writer == nil || topic == "" {
		return ErrNotConfigured
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	})
}

func (q *RunQueue) Close() error {
	q.readers.Wait()
	var errs []error
	for _, w := range []messageWriter{q.writer, q.retryWriter, q.dlqWriter} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	for _, r := range []messageReader{q.reader, q.retryReader} {
		if r != nil {
			errs = append(errs, r.Close())
		}
	}
	return errors.Join(errs...)
}
