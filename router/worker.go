package router

import (
	"context"
	"sync"
)

// job is one per-recipient delivery unit queued on a recipient worker.
type job struct {
	ctx      context.Context
	delivery Delivery
	rank     int
	result   chan error
}

// recipientWorker serializes deliveries to a single recipient, draining its
// queue in priority order, FIFO within a priority. One worker goroutine per
// recipient preserves ordering while distinct recipients proceed in
// parallel.
type recipientWorker struct {
	agentID string
	deliver func(j *job) error

	mu      sync.Mutex
	buckets [4][]*job

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

func newRecipientWorker(agentID string, deliver func(j *job) error) *recipientWorker {
	w := &recipientWorker{
		agentID: agentID,
		deliver: deliver,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue adds a job to the priority bucket and wakes the worker.
func (w *recipientWorker) enqueue(j *job) {
	rank := j.rank
	if rank < 0 || rank > 3 {
		rank = 0
	}

	w.mu.Lock()
	w.buckets[rank] = append(w.buckets[rank], j)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// next pops the highest-priority queued job, or nil when idle.
func (w *recipientWorker) next() *job {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rank := 3; rank >= 0; rank-- {
		if len(w.buckets[rank]) > 0 {
			j := w.buckets[rank][0]
			w.buckets[rank] = w.buckets[rank][1:]
			return j
		}
	}
	return nil
}

func (w *recipientWorker) run() {
	defer close(w.done)
	for {
		if j := w.next(); j != nil {
			j.result <- w.deliver(j)
			continue
		}
		select {
		case <-w.notify:
		case <-w.stop:
			// Drain jobs accepted before shutdown.
			for j := w.next(); j != nil; j = w.next() {
				j.result <- w.deliver(j)
			}
			return
		}
	}
}

// close stops the worker once its queue is empty and waits for it to exit.
func (w *recipientWorker) close() {
	close(w.stop)
	<-w.done
}
