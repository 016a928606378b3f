package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/digster/lan-file-transfer/internal/events"
	"github.com/digster/lan-file-transfer/internal/idgen"
	"github.com/digster/lan-file-transfer/internal/logging"
	"github.com/digster/lan-file-transfer/internal/receiver"
	"github.com/digster/lan-file-transfer/internal/sender"
	"github.com/digster/lan-file-transfer/internal/transferstate"
	"github.com/digster/lan-file-transfer/internal/txtype"
)

type sendJob struct {
	queueID  string
	path     string
	peerURL  string
	resumeID string
}

// Manager owns a receiver, a sender, the unified queue, and the single
// background worker that serializes outgoing sends.
type Manager struct {
	log      *logging.Logger
	bus      *events.Bus
	queue    *Queue
	receiver *receiver.Receiver
	sender   *sender.Sender
	store    *transferstate.Store

	downloadDir string
	port        int

	jobs   chan sendJob
	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Manager. Start creates downloadDir if it is absent; store
// may be nil to disable durable cross-restart resumption.
func New(bus *events.Bus, downloadDir string, port int, store *transferstate.Store) *Manager {
	m := &Manager{
		log:         logging.NewWithComponent("manager"),
		bus:         bus,
		queue:       NewQueue(bus),
		downloadDir: downloadDir,
		port:        port,
		store:       store,
		jobs:        make(chan sendJob, 4096),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	m.receiver = receiver.New(downloadDir, receiver.Callbacks{
		OnStarted:   m.onReceiverStarted,
		OnProgress:  m.onReceiverProgress,
		OnCompleted: m.onReceiverCompleted,
		OnFailed:    m.onReceiverFailed,
		OnCancelled: m.onReceiverCancelled,
		Lookup:      m.lookupIncomingResume,
	})
	m.sender = sender.New(sender.Callbacks{
		OnStarted:   m.onSenderStarted,
		OnProgress:  m.onSenderProgress,
		OnCompleted: m.onSenderCompleted,
		OnFailed:    m.onSenderFailed,
		OnCancelled: m.onSenderCancelled,
	})
	return m
}

// Start creates the download directory, starts the receiver listening, and
// launches the send worker.
func (m *Manager) Start() error {
	if err := os.MkdirAll(m.downloadDir, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	go func() {
		if err := m.receiver.ListenAndServe(m.port); err != nil {
			m.log.Error().Err(err).Msg("receiver stopped unexpectedly")
		}
	}()
	go m.runWorker()
	return nil
}

// Stop halts the send worker and shuts down the receiver, removing any
// live temp files.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.done
	if err := m.receiver.Shutdown(); err != nil {
		m.log.Warn().Err(err).Msg("receiver shutdown error")
	}
}

// QueueSend enqueues path for sending to the peer at peerURL, returning the
// minted queue-id immediately; the actual send happens on the background
// worker. If the durable store holds a resumable record for this exact
// (path, peerURL) pair, its transfer-id is threaded through so the peer can
// pick up from where the prior attempt left off instead of starting fresh.
func (m *Manager) QueueSend(path, peerURL, peerName string) (string, error) {
	size, filename, err := statForSend(path)
	if err != nil {
		return "", err
	}

	resumeID := m.findResumableTransferID(path, peerURL)

	queueID := idgen.New()
	m.queue.TrackOutgoing(queueID, filename, size, path, peerName, peerURL)

	select {
	case m.jobs <- sendJob{queueID: queueID, path: path, peerURL: peerURL, resumeID: resumeID}:
	default:
		return "", fmt.Errorf("send queue is full")
	}
	return queueID, nil
}

// findResumableTransferID looks up a previously interrupted outgoing
// transfer for the same source path and peer, returning its transfer-id, or
// "" if the store is disabled or holds no matching resumable record.
func (m *Manager) findResumableTransferID(path, peerURL string) string {
	if m.store == nil {
		return ""
	}
	records, err := m.store.Resumable()
	if err != nil {
		return ""
	}
	for _, r := range records {
		if r.Direction == txtype.DirectionOutgoing && r.PeerURL == peerURL && r.SourcePath == path {
			return r.TransferID
		}
	}
	return ""
}

func statForSend(path string) (size int64, filename string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, "", fmt.Errorf("source not found: %w", err)
	}
	name := filepath.Base(filepath.Clean(path))
	if !info.IsDir() {
		return info.Size(), name, nil
	}

	var total int64
	walkErr := filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	if walkErr != nil {
		return 0, "", fmt.Errorf("compute folder size: %w", walkErr)
	}
	return total, name + "/", nil
}

// CancelTransfer cancels queueID. Returns false if unknown or already
// terminal. If an outgoing send is attached, the sender's cancellation
// flag is set synchronously so the next chunk-loop boundary observes it.
func (m *Manager) CancelTransfer(queueID string) bool {
	t, ok := m.queue.Get(queueID)
	if !ok {
		return false
	}
	if !m.queue.Cancel(queueID) {
		return false
	}
	// Incoming cancellation is driven by the peer's own sender; for outgoing
	// transfers we still need to flip the sender's cancellation flag so the
	// next chunk-loop boundary observes it.
	if t.Direction == txtype.DirectionOutgoing {
		m.sender.Cancel(t.PeerAddress, t.SourcePath)
	}
	return true
}

// ClearCompleted drops every terminal entry from the queue.
func (m *Manager) ClearCompleted() {
	m.queue.ClearCompleted()
}

// Queue exposes the underlying Queue for read access (List, Get, Stats).
func (m *Manager) Queue() *Queue {
	return m.queue
}

func (m *Manager) runWorker() {
	defer close(m.done)
	ctx := context.Background()
	for {
		select {
		case <-m.stopCh:
			return
		case job := <-m.jobs:
			m.runSendJob(ctx, job)
		}
	}
}

func (m *Manager) runSendJob(ctx context.Context, job sendJob) {
	if t, ok := m.queue.Get(job.queueID); ok && t.Status == txtype.StatusCancelled {
		return
	}
	if _, err := m.sender.SendPath(ctx, job.path, job.peerURL, job.resumeID); err != nil {
		m.log.Error().Err(err).Str("path", job.path).Msg("send job failed")
	}
}

// lookupIncomingResume backs the receiver's cross-restart resume fallback:
// given a resume-id the receiver has no in-memory record of, it consults the
// durable store for a matching incoming record.
func (m *Manager) lookupIncomingResume(resumeID string) (receiver.ResumeRecord, bool) {
	if m.store == nil {
		return receiver.ResumeRecord{}, false
	}
	rec, ok, err := m.store.Get(resumeID)
	if err != nil || !ok || rec.Direction != txtype.DirectionIncoming {
		return receiver.ResumeRecord{}, false
	}
	return receiver.ResumeRecord{
		Filename:     rec.Filename,
		TotalSize:    rec.TotalSize,
		ExpectedHash: rec.ExpectedHash,
		TempPath:     rec.TempPath,
		FinalPath:    rec.FinalPath,
	}, true
}

// --- Receiver callbacks -----------------------------------------------

func (m *Manager) onReceiverStarted(t *receiver.IncomingTransfer) {
	m.queue.TrackIncoming(t.TransferID, t.Filename, t.TotalSize, "", "")
	if m.store != nil {
		m.store.Put(transferstate.Record{
			TransferID:   t.TransferID,
			Filename:     t.Filename,
			TotalSize:    t.TotalSize,
			ExpectedHash: t.ExpectedHash,
			Direction:    txtype.DirectionIncoming,
			TempPath:     t.TempPath,
			FinalPath:    t.FinalPath,
		})
	}
}

func (m *Manager) onReceiverProgress(t *receiver.IncomingTransfer) {
	m.queue.UpdateProgress(t.TransferID, t.ReceivedBytes)
}

func (m *Manager) onReceiverCompleted(t *receiver.IncomingTransfer, extracted bool) {
	m.queue.Complete(t.TransferID)
	if m.store != nil {
		m.store.Complete(t.TransferID)
	}
}

func (m *Manager) onReceiverFailed(t *receiver.IncomingTransfer, err error) {
	m.queue.Fail(t.TransferID, err.Error())
	if m.store != nil {
		m.store.Fail(t.TransferID)
	}
}

func (m *Manager) onReceiverCancelled(t *receiver.IncomingTransfer) {
	m.queue.Cancel(t.TransferID)
	if m.store != nil {
		m.store.Remove(t.TransferID)
	}
}

// --- Sender callbacks ----------------------------------------------------

func (m *Manager) onSenderStarted(t *sender.OutgoingTransfer) {
	queued, ok := m.queue.FindBySourcePath(t.OriginalPath)
	if !ok {
		return
	}
	m.queue.SetTransferID(queued.QueueID, t.TransferID)
	m.queue.SetStatus(queued.QueueID, txtype.StatusConnecting)
	m.putOutgoingRecord(t)
}

func (m *Manager) onSenderProgress(t *sender.OutgoingTransfer) {
	queued, ok := m.queue.FindBySourcePath(t.OriginalPath)
	if !ok {
		return
	}
	m.queue.SetStatus(queued.QueueID, t.Status)
	m.queue.UpdateProgress(queued.QueueID, t.SentBytes)
	m.putOutgoingRecord(t)
}

// putOutgoingRecord persists an outgoing transfer's current progress so it
// can be found by findResumableTransferID after a restart. It is a no-op
// until the peer has minted a transfer-id.
func (m *Manager) putOutgoingRecord(t *sender.OutgoingTransfer) {
	if m.store == nil || t.TransferID == "" {
		return
	}
	m.store.Put(transferstate.Record{
		TransferID:   t.TransferID,
		SourcePath:   t.OriginalPath,
		Filename:     filepath.Base(t.OriginalPath),
		PeerURL:      t.PeerURL,
		TotalSize:    t.TotalSize,
		Transferred:  t.SentBytes,
		ExpectedHash: t.Hash,
		Direction:    txtype.DirectionOutgoing,
	})
}

func (m *Manager) onSenderCompleted(t *sender.OutgoingTransfer) {
	queued, ok := m.queue.FindBySourcePath(t.OriginalPath)
	if !ok {
		return
	}
	m.queue.Complete(queued.QueueID)
	if m.store != nil {
		m.store.Complete(t.TransferID)
	}
}

func (m *Manager) onSenderFailed(t *sender.OutgoingTransfer) {
	queued, ok := m.queue.FindBySourcePath(t.OriginalPath)
	if !ok {
		return
	}
	msg := ""
	if t.Err != nil {
		msg = t.Err.Error()
	}
	m.queue.Fail(queued.QueueID, msg)
	if m.store != nil {
		m.store.Fail(t.TransferID)
	}
}

func (m *Manager) onSenderCancelled(t *sender.OutgoingTransfer) {
	queued, ok := m.queue.FindBySourcePath(t.OriginalPath)
	if !ok {
		return
	}
	m.queue.Cancel(queued.QueueID)
	if m.store != nil {
		m.store.Remove(t.TransferID)
	}
}
