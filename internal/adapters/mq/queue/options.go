package queue

import "github.com/okian/voyage/pkg/logger"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithBufferSize sets the buffer size for the tasks channel.
func WithBufferSize(size int) Option {
	return func(q *InMemoryQueue) {
		if size > 0 {
			q.bufferSize = size
		}
	}
}

// NATSOption applies a configuration option to the NATSQueue.
type NATSOption func(*NATSQueue)

// WithSubject sets the subject tasks are published on.
func WithSubject(subject string) NATSOption {
	return func(q *NATSQueue) {
		if subject != "" {
			q.subject = subject
		}
	}
}

// WithGroup sets the queue group consumers join.
func WithGroup(group string) NATSOption {
	return func(q *NATSQueue) {
		if group != "" {
			q.group = group
		}
	}
}

// WithPendingLimit bounds how many undelivered tasks a consumer buffers.
func WithPendingLimit(n int) NATSOption {
	return func(q *NATSQueue) {
		if n > 0 {
			q.pendingLimit = n
		}
	}
}

// WithNATSLogger sets the logger used for decode and transport errors.
func WithNATSLogger(l logger.Logger) NATSOption {
	return func(q *NATSQueue) {
		if l != nil {
			q.logger = l
		}
	}
}
