// Package queue is the worker's inbox: a FIFO of task and exit messages fed by the
// intake API and the startup seeding, consumed by a single worker loop.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
)

// MessageType distinguishes queue entries
type MessageType string

const (
	// TypeTask carries a repository to ingest
	TypeTask MessageType = "TASK"
	// TypeExit asks the worker loop to return
	TypeExit MessageType = "EXIT"
)

// Message is a queue entry
type Message struct {
	Type MessageType
	Task *domain.RepositoryTask
}

// ErrTerminated is returned by Pop once Terminate has been called
var ErrTerminated = errors.New("queue terminated")

// Queue is a FIFO safe for many producers and one consumer
type Queue struct {
	mu         sync.Mutex
	items      []Message
	notify     chan struct{}
	terminated bool
}

// New creates an empty queue
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends a message
func (q *Queue) Push(msg Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
}

// PushTask appends a task message
func (q *Queue) PushTask(task *domain.RepositoryTask) {
	q.Push(Message{Type: TypeTask, Task: task})
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a message is available, the queue is terminated or ctx is done
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if q.terminated {
			q.mu.Unlock()
			return Message{}, ErrTerminated
		}
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Terminate makes every following Pop return ErrTerminated. A task already handed
// to the consumer runs to completion.
func (q *Queue) Terminate() {
	q.mu.Lock()
	q.terminated = true
	q.mu.Unlock()
	q.signal()
}

// Drain removes and returns every pending message
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
