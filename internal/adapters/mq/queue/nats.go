package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/okian/voyage/pkg/logger"
	"github.com/okian/voyage/pkg/metrics"
)

const (
	defaultSubject      = "voyage.tasks"
	defaultGroup        = "voyage-workers"
	defaultPendingLimit = 10000
)

// NATSQueue publishes tasks to a subject and consumes them through a queue
// group, so each task reaches exactly one consumer across replicas. Delivery
// is at most once: tasks published while no consumer is subscribed are lost,
// which the periodic schedules tolerate.
type NATSQueue struct {
	nc           *nats.Conn
	ownConn      bool
	subject      string
	group        string
	pendingLimit int
	logger       logger.Logger

	mu      sync.Mutex
	subs    []*nats.Subscription
	buffers []chan *nats.Msg
	done    chan struct{}
	closed  bool
}

var _ Queue = (*NATSQueue)(nil)

// DialNATS connects to url with reconnect settings suited to a long-lived
// worker process.
func DialNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNATSQueue wraps an existing connection. The caller keeps ownership of nc.
func NewNATSQueue(nc *nats.Conn, opts ...NATSOption) *NATSQueue {
	q := &NATSQueue{
		nc:           nc,
		subject:      defaultSubject,
		group:        defaultGroup,
		pendingLimit: defaultPendingLimit,
		logger:       logger.Nop(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	metrics.UpdateQueueCapacity(q.pendingLimit)
	return q
}

// OpenNATSQueue dials url and returns a queue that closes the connection on Close.
func OpenNATSQueue(url string, opts ...NATSOption) (*NATSQueue, error) {
	nc, err := DialNATS(url, "voyage-tasks")
	if err != nil {
		return nil, err
	}
	q := NewNATSQueue(nc, opts...)
	q.ownConn = true
	return q, nil
}

// Enqueue publishes t. It returns false when the queue is closed, the payload
// cannot be encoded, or the publish fails.
func (q *NATSQueue) Enqueue(ctx context.Context, t Task) bool { //nolint:gocritic // hugeParam: Task is passed by value like the in-memory queue
	if q.IsClosed() || ctx.Err() != nil {
		metrics.RecordQueueEnqueueError()
		return false
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(t)
	if err != nil {
		metrics.RecordQueueEnqueueError()
		q.logger.Error(ctx, "encode task", logger.String("task", t.Name), logger.Error(err))
		return false
	}
	if err := q.nc.Publish(q.subject, payload); err != nil {
		metrics.RecordQueueEnqueueError()
		q.logger.Error(ctx, "publish task", logger.String("task", t.Name), logger.Error(err))
		return false
	}
	metrics.RecordQueueEnqueue()
	return true
}

// Dequeue joins the queue group and streams decoded tasks until ctx ends or
// the queue is closed. A subscribe failure is logged and yields a closed
// channel.
func (q *NATSQueue) Dequeue(ctx context.Context) <-chan Task {
	out := make(chan Task)
	msgs := make(chan *nats.Msg, q.pendingLimit)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		close(out)
		return out
	}
	sub, err := q.nc.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		q.mu.Unlock()
		q.logger.Error(ctx, "subscribe to tasks", logger.String("subject", q.subject), logger.Error(err))
		close(out)
		return out
	}
	q.subs = append(q.subs, sub)
	q.buffers = append(q.buffers, msgs)
	q.mu.Unlock()

	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case msg := <-msgs:
				var t Task
				if err := json.Unmarshal(msg.Data, &t); err != nil {
					q.logger.Warn(ctx, "dropping undecodable task", logger.Error(err))
					continue
				}
				metrics.UpdateQueueSize(len(msgs))
				select {
				case out <- t:
				case <-ctx.Done():
					return
				case <-q.done:
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of tasks received by local consumers but not yet handled.
func (q *NATSQueue) Len(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, b := range q.buffers {
		total += len(b)
	}
	metrics.UpdateQueueSize(total)
	return total
}

// Close drains local subscriptions and, when owned, the connection.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	for _, s := range q.subs {
		_ = s.Unsubscribe()
	}
	q.subs = nil
	q.buffers = nil
	if q.ownConn {
		q.nc.Close()
	}
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *NATSQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
