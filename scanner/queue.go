package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mixmail/mix/index"
	"github.com/mixmail/mix/logger"
	"github.com/mixmail/mix/mailbox"
	"github.com/mixmail/mix/pkg/metrics"
)

// TaskType identifies the kind of work queued for a mailbox. The order of
// the constants is the execution priority.
type TaskType int

const (
	TaskRescan TaskType = iota
)

func (t TaskType) String() string {
	switch t {
	case TaskRescan:
		return "rescan"
	default:
		return "unknown"
	}
}

// Task is one unit of queued work.
type Task struct {
	Type    TaskType
	Mailbox *mailbox.Mailbox
}

type taskKey struct {
	typ  TaskType
	path string
}

// Queue is a deduplicating priority queue of tasks. Pushing a task that is
// already queued merges the duplicates. Pop order: task type first, then
// mailbox priority (higher first), then display name.
type Queue struct {
	mu     sync.Mutex
	tasks  map[taskKey]Task
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		tasks:  make(map[taskKey]Task),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues a task. Duplicates merge silently.
func (q *Queue) Push(t Task) {
	q.mu.Lock()
	q.tasks[taskKey{typ: t.Type, path: t.Mailbox.Path()}] = t
	metrics.TasksQueued.Set(float64(len(q.tasks)))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the highest-priority task. The second return is
// false when the queue is empty.
func (q *Queue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	keys := make([]taskKey, 0, len(q.tasks))
	for k := range q.tasks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := q.tasks[keys[i]], q.tasks[keys[j]]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if pa, pb := a.Mailbox.Prio(), b.Mailbox.Prio(); pa != pb {
			return pa > pb
		}
		return a.Mailbox.Name() < b.Mailbox.Name()
	})

	task := q.tasks[keys[0]]
	delete(q.tasks, keys[0])
	metrics.TasksQueued.Set(float64(len(q.tasks)))
	return task, true
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Worker drains the queue, refreshing the index for rescanned mailboxes.
type Worker struct {
	queue *Queue
	idx   *index.Index
}

func NewWorker(queue *Queue, idx *index.Index) *Worker {
	return &Worker{queue: queue, idx: idx}
}

// Run processes tasks until the context is cancelled. It wakes up when
// tasks are pushed and on a slow tick as a safety net.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	logger.Info("QUEUE: worker started")
	for {
		for w.Turn(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			logger.Info("QUEUE: worker stopped")
			return
		case <-w.queue.notify:
		case <-ticker.C:
		}
	}
}

// Turn performs a single task. Returns true if a task was performed and
// false if the queue was empty.
func (w *Worker) Turn(ctx context.Context) bool {
	task, ok := w.queue.Pop()
	if !ok {
		return false
	}

	switch task.Type {
	case TaskRescan:
		if err := w.rescan(ctx, task.Mailbox); err != nil {
			logger.Error("QUEUE: rescan failed", "mailbox", task.Mailbox.Name(), "error", err)
			metrics.TasksTotal.WithLabelValues(task.Type.String(), "error").Inc()
			return true
		}
	}
	metrics.TasksTotal.WithLabelValues(task.Type.String(), "ok").Inc()
	return true
}

func (w *Worker) rescan(ctx context.Context, m *mailbox.Mailbox) error {
	previous, err := w.idx.GetByName(ctx, m.Name())
	known := err == nil

	rec, err := index.FromMailbox(m)
	if err != nil {
		return err
	}
	if err := w.idx.Upsert(ctx, rec); err != nil {
		return err
	}

	if known && previous.ContentHash != rec.ContentHash {
		logger.Info("QUEUE: mailbox content changed",
			"mailbox", m.Name(), "messages", rec.Messages)
	} else {
		logger.Debug("QUEUE: mailbox rescanned",
			"mailbox", m.Name(), "messages", rec.Messages)
	}
	return nil
}
