// Package transfer hosts the front-end-facing queue of transfers and the
// manager that wires the receiver and sender into it, serializing outgoing
// sends through a single background worker.
package transfer

import (
	"sync"
	"time"

	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/events"
	"github.com/digster/lan-file-transfer/internal/txtype"
)

// QueuedTransfer is the unified, front-end-facing view of one transfer,
// outgoing or incoming.
type QueuedTransfer struct {
	QueueID     string
	TransferID  string
	Direction   txtype.Direction
	Filename    string
	TotalSize   int64
	Transferred int64
	Status      txtype.Status
	PeerName    string
	PeerAddress string
	SourcePath  string // outgoing only
	Error       string
	Speed       float64

	mu             sync.RWMutex
	lastBytes      int64
	lastSampleTime time.Time
}

// Snapshot returns a value copy safe to hand to callers outside the lock.
func (q *QueuedTransfer) Snapshot() QueuedTransfer {
	q.mu.RLock()
	defer q.mu.RUnlock()
	cp := *q
	return cp
}

// QueueStats summarizes how many queued transfers sit in each status.
type QueueStats struct {
	Pending      int
	Connecting   int
	Transferring int
	Retrying     int
	Verifying    int
	Completed    int
	Failed       int
	Cancelled    int
}

// Total returns the number of tracked transfers across all statuses.
func (s QueueStats) Total() int {
	return s.Pending + s.Connecting + s.Transferring + s.Retrying + s.Verifying + s.Completed + s.Failed + s.Cancelled
}

// Queue tracks every QueuedTransfer and publishes queue/transfer events as
// entries change, so any number of front-ends can observe it.
type Queue struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*QueuedTransfer
	bus     *events.Bus
}

// NewQueue creates an empty Queue publishing to bus.
func NewQueue(bus *events.Bus) *Queue {
	return &Queue{
		entries: make(map[string]*QueuedTransfer),
		bus:     bus,
	}
}

func (q *Queue) insert(t *QueuedTransfer) {
	q.mu.Lock()
	q.order = append(q.order, t.QueueID)
	q.entries[t.QueueID] = t
	q.mu.Unlock()
	q.publishQueueUpdated()
}

// TrackOutgoing creates a pending QueuedTransfer for a newly queued send.
func (q *Queue) TrackOutgoing(queueID, filename string, size int64, sourcePath, peerName, peerAddress string) *QueuedTransfer {
	t := &QueuedTransfer{
		QueueID:        queueID,
		Direction:      txtype.DirectionOutgoing,
		Filename:       filename,
		TotalSize:      size,
		Status:         txtype.StatusPending,
		SourcePath:     sourcePath,
		PeerName:       peerName,
		PeerAddress:    peerAddress,
		lastSampleTime: time.Now(),
	}
	q.insert(t)
	return t
}

// TrackIncoming creates a transferring QueuedTransfer for a receiver-
// initiated transfer; its queue-id equals the transfer-id.
func (q *Queue) TrackIncoming(transferID, filename string, size int64, peerName, peerAddress string) *QueuedTransfer {
	t := &QueuedTransfer{
		QueueID:        transferID,
		TransferID:     transferID,
		Direction:      txtype.DirectionIncoming,
		Filename:       filename,
		TotalSize:      size,
		Status:         txtype.StatusTransferring,
		PeerName:       peerName,
		PeerAddress:    peerAddress,
		lastSampleTime: time.Now(),
	}
	q.insert(t)
	return t
}

// Get returns a snapshot of the entry for id, if present.
func (q *Queue) Get(queueID string) (QueuedTransfer, bool) {
	q.mu.RLock()
	t, ok := q.entries[queueID]
	q.mu.RUnlock()
	if !ok {
		return QueuedTransfer{}, false
	}
	return t.Snapshot(), true
}

// FindBySourcePath returns the first outgoing entry whose SourcePath
// matches, used by the sender's "started" callback to attach its transfer-id.
func (q *Queue) FindBySourcePath(path string) (*QueuedTransfer, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, id := range q.order {
		t := q.entries[id]
		if t.Direction == txtype.DirectionOutgoing && t.SourcePath == path {
			return t, true
		}
	}
	return nil, false
}

// List returns a snapshot of every tracked entry, in creation order.
func (q *Queue) List() []QueuedTransfer {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]QueuedTransfer, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id].Snapshot())
	}
	return out
}

// SetTransferID attaches the transfer-id the receiving peer assigned to an
// outgoing entry.
func (q *Queue) SetTransferID(queueID, transferID string) {
	q.mu.RLock()
	t, ok := q.entries[queueID]
	q.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.TransferID = transferID
	t.mu.Unlock()
}

// SetStatus updates an entry's status and publishes queue-updated.
func (q *Queue) SetStatus(queueID string, status txtype.Status) {
	q.mu.RLock()
	t, ok := q.entries[queueID]
	q.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.Status = status
	t.mu.Unlock()
	q.publishQueueUpdated()
}

// UpdateProgress advances an entry's transferred-bytes count, recomputing
// a smoothed speed no more often than constants.SpeedSampleInterval.
func (q *Queue) UpdateProgress(queueID string, transferred int64) {
	q.mu.RLock()
	t, ok := q.entries[queueID]
	q.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.Transferred = transferred
	now := time.Now()
	elapsed := now.Sub(t.lastSampleTime)
	if elapsed >= constants.SpeedSampleInterval {
		delta := transferred - t.lastBytes
		if delta > 0 {
			instant := float64(delta) / elapsed.Seconds()
			if t.Speed == 0 {
				t.Speed = instant
			} else {
				t.Speed = constants.SpeedSmoothingAlpha*instant + (1-constants.SpeedSmoothingAlpha)*t.Speed
			}
		}
		t.lastBytes = transferred
		t.lastSampleTime = now
	}
	t.mu.Unlock()

	q.publishQueueUpdated()
}

// Complete marks an entry completed, with transferred == total.
func (q *Queue) Complete(queueID string) {
	q.mu.RLock()
	t, ok := q.entries[queueID]
	q.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.Status = txtype.StatusCompleted
	t.Transferred = t.TotalSize
	t.mu.Unlock()

	q.publishQueueUpdated()
	q.publish(events.NewTransferEvent(events.TypeTransferCompleted, t.QueueID, string(t.Direction), t.Filename, t.TotalSize, t.TotalSize, 1.0, 0, nil))
}

// Fail marks an entry failed with the given message.
func (q *Queue) Fail(queueID, message string) {
	q.mu.RLock()
	t, ok := q.entries[queueID]
	q.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.Status = txtype.StatusFailed
	t.Error = message
	t.mu.Unlock()

	q.publishQueueUpdated()
	q.publish(events.NewTransferEvent(events.TypeTransferFailed, t.QueueID, string(t.Direction), t.Filename, t.TotalSize, t.Transferred, 0, 0, nil))
}

// Cancel marks queueID cancelled, returning false if it is unknown or
// already in a terminal status.
func (q *Queue) Cancel(queueID string) bool {
	q.mu.RLock()
	t, ok := q.entries[queueID]
	q.mu.RUnlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	if t.Status.IsTerminal() {
		t.mu.Unlock()
		return false
	}
	t.Status = txtype.StatusCancelled
	t.mu.Unlock()

	q.publishQueueUpdated()
	return true
}

// ClearCompleted drops every entry in a terminal status.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	kept := q.order[:0]
	for _, id := range q.order {
		t := q.entries[id]
		if t.Status.IsTerminal() {
			delete(q.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	q.mu.Unlock()
	q.publishQueueUpdated()
}

// Stats summarizes entry counts by status.
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var s QueueStats
	for _, id := range q.order {
		switch q.entries[id].Status {
		case txtype.StatusPending:
			s.Pending++
		case txtype.StatusConnecting:
			s.Connecting++
		case txtype.StatusTransferring:
			s.Transferring++
		case txtype.StatusRetrying:
			s.Retrying++
		case txtype.StatusVerifying:
			s.Verifying++
		case txtype.StatusCompleted:
			s.Completed++
		case txtype.StatusFailed:
			s.Failed++
		case txtype.StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

func (q *Queue) publishQueueUpdated() {
	q.publish(events.NewQueueUpdatedEvent())
}

func (q *Queue) publish(e events.Event) {
	if q.bus != nil {
		q.bus.Publish(e)
	}
}
