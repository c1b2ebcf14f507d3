package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

type chatJob struct {
	message *types.ChatMessage
	purge   string
}

// chatWriter persists chat and purges reclaimed rooms on its own goroutine so
// the dispatch loop never waits on the store.
// ARCHITECTURAL DISCOVERY: One goroutine drains a FIFO queue, so a purge never
// overtakes a store queued before it. A message stays in pending until its
// write finishes and replay merges pending rows, so history never lags the
// broadcast.
type chatWriter struct {
	store   interfaces.ChatStore
	timeout time.Duration
	jobs    chan chatJob
	done    chan struct{}
	log     *logrus.Entry

	sendMu sync.RWMutex
	closed bool

	pendingMu sync.Mutex
	pending   map[string][]types.ChatMessage
}

func newChatWriter(store interfaces.ChatStore, queueSize int, timeout time.Duration, log *logrus.Entry) *chatWriter {
	w := &chatWriter{
		store:   store,
		timeout: timeout,
		jobs:    make(chan chatJob, queueSize),
		done:    make(chan struct{}),
		log:     log,
		pending: make(map[string][]types.ChatMessage),
	}
	go w.loop()
	return w
}

func (w *chatWriter) loop() {
	defer close(w.done)
	for job := range w.jobs {
		w.run(job)
	}
}

func (w *chatWriter) run(job chatJob) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if job.purge != "" {
		if err := w.store.PurgeRoom(ctx, job.purge); err != nil {
			w.log.WithError(err).WithField("instance", job.purge).Warn("Failed to purge chat history")
		}
		return
	}

	msg := job.message
	if err := w.store.StoreChatMessage(ctx, msg); err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"room_id":    msg.RoomID,
			"message_id": msg.ID,
		}).Warn("Failed to persist chat message")
	}
	w.pendingMu.Lock()
	queued := w.pending[msg.RoomInstance]
	for i := range queued {
		if queued[i].ID == msg.ID {
			queued = append(queued[:i], queued[i+1:]...)
			break
		}
	}
	if len(queued) == 0 {
		delete(w.pending, msg.RoomInstance)
	} else {
		w.pending[msg.RoomInstance] = queued
	}
	w.pendingMu.Unlock()
}

// Store queues msg without blocking. It reports false when the queue is full
// or the writer is closed.
func (w *chatWriter) Store(msg *types.ChatMessage) bool {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return false
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	select {
	case w.jobs <- chatJob{message: msg}:
		w.pending[msg.RoomInstance] = append(w.pending[msg.RoomInstance], *msg)
		return true
	default:
		return false
	}
}

// Purge queues removal of one room instance's history. It waits for queue
// space up to the store timeout; callers are timer goroutines, never dispatch.
func (w *chatWriter) Purge(instance string) bool {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return false
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case w.jobs <- chatJob{purge: instance}:
		return true
	case <-timer.C:
		return false
	}
}

// History returns stored messages of instance followed by those still queued,
// trimmed to the newest limit.
func (w *chatWriter) History(ctx context.Context, instance string, limit int) ([]types.ChatMessage, error) {
	// Snapshot before reading so a write finishing in between shows up in one
	// of the two; duplicates are dropped by id.
	w.pendingMu.Lock()
	queued := append([]types.ChatMessage(nil), w.pending[instance]...)
	w.pendingMu.Unlock()

	history, err := w.store.GetRoomChatHistory(ctx, instance, limit)
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return history, nil
	}

	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		seen[msg.ID] = struct{}{}
	}
	for _, msg := range queued {
		if _, dup := seen[msg.ID]; !dup {
			history = append(history, msg)
		}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// Close stops accepting jobs and waits for the queue to drain.
func (w *chatWriter) Close() {
	w.sendMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.sendMu.Unlock()
	<-w.done
}
