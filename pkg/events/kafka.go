package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
)

var ErrPublisherClosed = errors.New("publisher closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers      []string
	Topic        string
	QueueSize    int
	WriteTimeout time.Duration
}

// Publisher ships trades to a Kafka topic, keyed by asset so one asset's trades stay ordered
// within a partition. Trades are queued and written by a background goroutine so the
// matching path never waits on the broker.
type Publisher struct {
	w       messageWriter
	timeout time.Duration
	logger  *zap.Logger

	queue chan matching.Trade
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewPublisher(cfg PublisherConfig, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, cfg, logger)
}

func newPublisher(w messageWriter, cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	p := &Publisher{
		w:       w,
		timeout: cfg.WriteTimeout,
		logger:  logger,
		queue:   make(chan matching.Trade, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues a trade. It never blocks; a full queue drops the trade with a warning.
func (p *Publisher) Publish(t matching.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- t:
		return nil
	default:
		p.logger.Warn("trade queue full, dropping event", zap.Uint64("trade_id", t.ID))
		return errors.New("trade queue full")
	}
}

// Listener adapts Publish to matching.Engine.OnTrade
func (p *Publisher) Listener() func(matching.Trade) {
	return func(t matching.Trade) { _ = p.Publish(t) }
}

func (p *Publisher) run() {
	defer close(p.done)
	for t := range p.queue {
		value, err := NewTradeEvent(t).Marshal()
		if err != nil {
			p.logger.Error("failed to encode trade", zap.Uint64("trade_id", t.ID), zap.Error(err))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err = p.w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(t.Asset),
			Value: value,
			Time:  time.UnixMilli(t.Timestamp),
		})
		cancel()
		if err != nil {
			p.logger.Error("failed to publish trade", zap.Uint64("trade_id", t.ID), zap.Error(err))
		}
	}
}

// Close drains queued trades and closes the writer
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.w.Close()
}
