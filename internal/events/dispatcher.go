package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"richtext-ot/internal/operations"
)

// EventOpApplied is the type of every event the dispatcher publishes.
const EventOpApplied = "OP_APPLIED"

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("dispatcher closed")

// OpApplied records one operation accepted by a document.
type OpApplied struct {
	EventType   string        `json:"eventType"`
	DocID       string        `json:"docId"`
	OperationID string        `json:"operationId"`
	ClientID    string        `json:"clientId"`
	BaseVersion int           `json:"baseVersion"`
	Version     int           `json:"version"`
	Op          operations.Op `json:"op"`
	AppliedAt   time.Time     `json:"appliedAt"`
}

// Options tunes the dispatcher.
type Options struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		QueueSize:   1024,
		Workers:     2,
		MaxRetry:    3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// Dispatcher publishes applied-operation events to Kafka from bounded
// local queues so that applying operations never waits on the broker.
// Each document is pinned to one worker, so its events are published in
// version order. Events that still fail after MaxRetry attempts are
// logged and dropped.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string
	opt      Options

	queues []chan OpApplied
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the workers, each with its own queue of QueueSize
// events. A nil producer or an empty topic turns sending into a no-op.
func NewDispatcher(producer sarama.SyncProducer, topic string, opt Options) *Dispatcher {
	def := DefaultOptions()
	if opt.QueueSize <= 0 {
		opt.QueueSize = def.QueueSize
	}
	if opt.Workers <= 0 {
		opt.Workers = def.Workers
	}
	if opt.MaxRetry < 0 {
		opt.MaxRetry = 0
	}

	d := &Dispatcher{
		producer: producer,
		topic:    topic,
		opt:      opt,
		queues:   make([]chan OpApplied, opt.Workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan OpApplied, opt.QueueSize)
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	return d
}

// NewKafkaProducer connects a synchronous producer to brokers.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 0 // retries are ours

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// Enqueue queues evt on its document's worker. When that queue is full it
// waits until ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, evt OpApplied) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	if evt.EventType == "" {
		evt.EventType = EventOpApplied
	}
	select {
	case d.queues[d.shard(evt.DocID)] <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the queues and closes the producer.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if d.producer != nil {
		return d.producer.Close()
	}
	return nil
}

// shard maps a document id to the index of its worker.
func (d *Dispatcher) shard(docID string) int {
	h := fnv.New32a()
	h.Write([]byte(docID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queues[workerID] {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt OpApplied) {
	for attempt := 0; attempt <= d.opt.MaxRetry; attempt++ {
		err := d.sendOnce(evt)
		if err == nil {
			return
		}

		if attempt == d.opt.MaxRetry {
			log.Printf("kafka send failed, drop event doc=%s op=%s version=%d worker=%d err=%v",
				evt.DocID, evt.OperationID, evt.Version, workerID, err)
			return
		}

		time.Sleep(d.backoff(attempt))
	}
}

// backoff doubles with every attempt up to MaxBackoff.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := d.opt.BaseBackoff * time.Duration(1<<attempt)
	if d.opt.MaxBackoff > 0 && b > d.opt.MaxBackoff {
		b = d.opt.MaxBackoff
	}
	return b
}

func (d *Dispatcher) sendOnce(evt OpApplied) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
