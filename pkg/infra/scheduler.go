// Package infra provides the seal worker's deterministic retry scheduler:
// due seal jobs are ordered by next-attempt time, ties broken by a sort
// key, so a repeated run over the same due set always retries jobs in the
// same order.
package infra

import (
	"container/heap"
	"context"
	"fmt"
	"time"
)

// SchedulerEvent is one retry-due seal job queued for processing.
type SchedulerEvent struct {
	EventID     string
	EventType   string
	ScheduledAt time.Time
	SortKey     string
}

// schedulerHeap orders events by scheduled time, then sort key.
type schedulerHeap []*SchedulerEvent

func (h schedulerHeap) Len() int { return len(h) }

func (h schedulerHeap) Less(i, j int) bool {
	if !h[i].ScheduledAt.Equal(h[j].ScheduledAt) {
		return h[i].ScheduledAt.Before(h[j].ScheduledAt)
	}
	return h[i].SortKey < h[j].SortKey
}

func (h schedulerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *schedulerHeap) Push(x interface{}) {
	*h = append(*h, x.(*SchedulerEvent))
}

func (h *schedulerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// InMemoryScheduler orders queued seal retry jobs by scheduled time. It is
// built fresh and drained within a single RetryDue call, so it carries no
// locking or blocking semantics.
type InMemoryScheduler struct {
	events schedulerHeap
}

// NewInMemoryScheduler returns an empty scheduler ready for Schedule calls.
func NewInMemoryScheduler() *InMemoryScheduler {
	s := &InMemoryScheduler{}
	heap.Init(&s.events)
	return s
}

// Schedule queues one retry-due event.
func (s *InMemoryScheduler) Schedule(ctx context.Context, event *SchedulerEvent) error {
	heap.Push(&s.events, event)
	return nil
}

// Next pops the next event in scheduled-time order.
func (s *InMemoryScheduler) Next(ctx context.Context) (*SchedulerEvent, error) {
	if s.events.Len() == 0 {
		return nil, fmt.Errorf("scheduler: no events queued")
	}
	return heap.Pop(&s.events).(*SchedulerEvent), nil
}

// Len reports the number of events still queued.
func (s *InMemoryScheduler) Len() int { return s.events.Len() }
