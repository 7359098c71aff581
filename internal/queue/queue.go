// Package queue provides the transport sinks the ingest publisher pushes
// published IngestEvent envelopes onto, and that domain handlers use for
// their own out-of-band messaging. Two drivers are supported: Kafka for
// production deployments and a line-delimited stdio driver for local
// development and integration tests.
//
// Publish takes an Envelope rather than a bare payload: EventKey carries
// the event's partition_key as the transport's routing/partitioning key,
// so that every event for a given address lands on the same Kafka
// partition in the same relative order the scanner observed it on chain
// (the ordering guarantee spec.md's Ingest Publisher section depends on).
// Headers carry event_id and block_number so a consumer can dedupe or
// audit lag without unmarshalling the payload first.
package queue

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

const (
	envKafkaTLS          = "LOGIDX_QUEUE_KAFKA_TLS"
	defaultMaxLineBytes  = 1 << 20
	defaultKafkaMinBytes = 1
	defaultKafkaMaxBytes = 10 << 20

	// HeaderEventID and HeaderBlockNumber are the envelope headers every
	// driver carries so a consumer can inspect provenance without
	// decoding Value.
	HeaderEventID     = "event_id"
	HeaderBlockNumber = "block_number"
)

// Envelope is one published IngestEvent, addressed for the transport.
// EventKey is the event's partition_key, used as the Kafka message key
// (or, for the stdio driver, as the envelope's routing field) so that
// per-address ordering survives the trip through the queue.
type Envelope struct {
	EventKey    string
	EventID     string
	BlockNumber uint64
	Payload     json.RawMessage
}

func (e Envelope) headers() map[string]string {
	return map[string]string{
		HeaderEventID:     e.EventID,
		HeaderBlockNumber: strconv.FormatUint(e.BlockNumber, 10),
	}
}

// Message is a queue record delivered to a consumer.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	// Timestamp is the producer timestamp (Kafka) or local receive time (stdio).
	Timestamp time.Time

	ackFn func(context.Context) error
}

// Ack commits/acknowledges message processing when required by the driver.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

// EventID returns the HeaderEventID header, or "" if absent.
func (m Message) EventID() string {
	return m.Headers[HeaderEventID]
}

// Consumer consumes queue messages asynchronously.
type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

// Producer publishes IngestEvent envelopes.
type Producer interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Close() error
}

// ConsumerConfig configures queue consumers.
type ConsumerConfig struct {
	Driver string

	// Kafka fields.
	Brokers []string
	Group   string
	Topics  []string

	KafkaMinBytes int
	KafkaMaxBytes int

	// Stdio fields.
	Reader       io.Reader
	MaxLineBytes int
}

// ProducerConfig configures queue producers.
type ProducerConfig struct {
	Driver string

	// Kafka fields.
	Brokers      []string
	BatchTimeout time.Duration

	// Stdio fields.
	Writer io.Writer
}

// NewConsumer creates a queue consumer for the configured driver.
func NewConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaConsumer(ctx, cfg)
	case DriverStdio:
		return newStdioConsumer(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

// NewProducer creates a queue producer for the configured driver.
func NewProducer(cfg ProducerConfig) (Producer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverKafka
	}
	return v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeList(strings.Split(s, ","))
}

func queueKafkaTLSEnabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(envKafkaTLS)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

type kafkaConsumer struct {
	reader *kafka.Reader

	msgCh chan Message
	errCh chan error

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func shouldStopKafkaConsumerOnFetchError(err error) bool {
	return errors.Is(err, context.Canceled)
}

func newKafkaConsumer(parent context.Context, cfg ConsumerConfig) (Consumer, error) {
	brokers := normalizeList(cfg.Brokers)
	topics := normalizeList(cfg.Topics)
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer requires at least one broker")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return nil, errors.New("kafka consumer requires group")
	}
	if len(topics) == 0 {
		return nil, errors.New("kafka consumer requires at least one topic")
	}
	minBytes := cfg.KafkaMinBytes
	if minBytes <= 0 {
		minBytes = defaultKafkaMinBytes
	}
	maxBytes := cfg.KafkaMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultKafkaMaxBytes
	}
	if maxBytes < minBytes {
		return nil, errors.New("kafka consumer max bytes must be >= min bytes")
	}

	readerCfg := kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     strings.TrimSpace(cfg.Group),
		GroupTopics: topics,
		MinBytes:    minBytes,
		MaxBytes:    maxBytes,
	}
	if queueKafkaTLSEnabled() {
		readerCfg.Dialer = &kafka.Dialer{
			Timeout: 10 * time.Second,
			TLS: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
	}
	reader := kafka.NewReader(readerCfg)
	ctx, cancel := context.WithCancel(parent)
	c := &kafkaConsumer{
		reader: reader,
		msgCh:  make(chan Message, 64),
		errCh:  make(chan error, 8),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

func (c *kafkaConsumer) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.msgCh)
	defer close(c.errCh)

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if shouldStopKafkaConsumerOnFetchError(err) {
				return
			}
			select {
			case c.errCh <- err:
			case <-ctx.Done():
				return
			}
			continue
		}

		msg := Message{
			Topic:     km.Topic,
			Key:       append([]byte(nil), km.Key...),
			Value:     append([]byte(nil), km.Value...),
			Headers:   headersFromKafka(km.Headers),
			Timestamp: km.Time,
			ackFn: func(ackCtx context.Context) error {
				return c.reader.CommitMessages(ackCtx, km)
			},
		}
		select {
		case c.msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func headersFromKafka(kh []kafka.Header) map[string]string {
	if len(kh) == 0 {
		return nil
	}
	out := make(map[string]string, len(kh))
	for _, h := range kh {
		out[h.Key] = string(h.Value)
	}
	return out
}

func headersToKafka(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func (c *kafkaConsumer) Messages() <-chan Message {
	return c.msgCh
}

func (c *kafkaConsumer) Errors() <-chan error {
	return c.errCh
}

func (c *kafkaConsumer) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.reader.Close()
		<-c.done
	})
	return err
}

type stdioConsumer struct {
	msgCh chan Message
	errCh chan error

	cancel context.CancelFunc
	once   sync.Once
}

// stdioLine is the wire shape one line of the stdio driver carries: an
// Envelope plus its headers, hex-encoded key, and raw JSON payload. It
// exists so the local/dev driver exercises the same event provenance
// (event_id, block_number, partition key) the Kafka driver puts in
// message headers, rather than dropping to an opaque byte stream.
type stdioLine struct {
	Key     string            `json:"key,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Value   json.RawMessage   `json:"value"`
}

func newStdioConsumer(parent context.Context, cfg ConsumerConfig) (Consumer, error) {
	reader := cfg.Reader
	if reader == nil {
		reader = os.Stdin
	}
	maxLineBytes := cfg.MaxLineBytes
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}

	ctx, cancel := context.WithCancel(parent)
	c := &stdioConsumer{
		msgCh:  make(chan Message, 64),
		errCh:  make(chan error, 8),
		cancel: cancel,
	}
	go func() {
		defer close(c.msgCh)
		defer close(c.errCh)

		sc := bufio.NewScanner(reader)
		sc.Buffer(make([]byte, 1024), maxLineBytes)
		for sc.Scan() {
			var line stdioLine
			if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
				select {
				case c.errCh <- fmt.Errorf("decode stdio line: %w", err):
				case <-ctx.Done():
					return
				}
				continue
			}
			key, err := hex.DecodeString(line.Key)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("decode stdio line key: %w", err):
				case <-ctx.Done():
					return
				}
				continue
			}
			msg := Message{
				Key:       key,
				Value:     append([]byte(nil), line.Value...),
				Headers:   line.Headers,
				Timestamp: time.Now().UTC(),
			}
			select {
			case c.msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case c.errCh <- err:
			case <-ctx.Done():
			}
		}
	}()
	return c, nil
}

func (c *stdioConsumer) Messages() <-chan Message {
	return c.msgCh
}

func (c *stdioConsumer) Errors() <-chan error {
	return c.errCh
}

func (c *stdioConsumer) Close() error {
	c.once.Do(func() {
		c.cancel()
	})
	return nil
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func newKafkaProducer(cfg ProducerConfig) (Producer, error) {
	brokers := normalizeList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer requires at least one broker")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	if queueKafkaTLSEnabled() {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
	}

	return &kafkaProducer{writer: writer}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, env Envelope) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("topic is required")
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(env.EventKey),
		Value:   env.Payload,
		Headers: headersToKafka(env.headers()),
	})
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

type stdioProducer struct {
	w io.Writer
	m sync.Mutex
}

func newStdioProducer(cfg ProducerConfig) Producer {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return &stdioProducer{w: w}
}

func (p *stdioProducer) Publish(_ context.Context, topic string, env Envelope) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("topic is required")
	}

	line := stdioLine{
		Key:     hex.EncodeToString([]byte(env.EventKey)),
		Headers: env.headers(),
		Value:   env.Payload,
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode stdio line: %w", err)
	}

	p.m.Lock()
	defer p.m.Unlock()

	if _, err := p.w.Write(encoded); err != nil {
		return err
	}
	if _, err := p.w.Write([]byte("\n")); err != nil {
		return err
	}
	return nil
}

func (p *stdioProducer) Close() error {
	return nil
}
