// Package sender implements the outgoing half of the chunked transfer
// protocol: hash, init, chunked POST with retry and backoff, and complete.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/digster/lan-file-transfer/internal/archive"
	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/hashutil"
	"github.com/digster/lan-file-transfer/internal/httpx"
	"github.com/digster/lan-file-transfer/internal/logging"
	"github.com/digster/lan-file-transfer/internal/txtype"
)

// OutgoingTransfer is the sender-side record of one in-flight send.
type OutgoingTransfer struct {
	SourcePath   string // what is actually read from disk (archive path for folders)
	OriginalPath string // user-visible path; the cancellation key component
	PeerURL      string
	TransferID   string
	TotalSize    int64
	SentBytes    int64
	Hash         string
	Status       txtype.Status
	RetryCount   int
	Speed        float64
	Err          error

	mu             sync.RWMutex
	lastSentBytes  int64
	lastSampleTime time.Time
}

func (t *OutgoingTransfer) setStatus(s txtype.Status) {
	t.mu.Lock()
	t.Status = s
	t.mu.Unlock()
}

func (t *OutgoingTransfer) snapshotSpeed(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := now.Sub(t.lastSampleTime)
	if elapsed < constants.SpeedSampleInterval {
		return
	}
	delta := t.SentBytes - t.lastSentBytes
	if delta <= 0 {
		t.lastSampleTime = now
		return
	}
	instant := float64(delta) / elapsed.Seconds()
	if t.Speed == 0 {
		t.Speed = instant
	} else {
		t.Speed = constants.SpeedSmoothingAlpha*instant + (1-constants.SpeedSmoothingAlpha)*t.Speed
	}
	t.lastSentBytes = t.SentBytes
	t.lastSampleTime = now
}

// transferKey is "{peer_url}:{original_path}", matching the cancellation
// lookup the manager performs against user-visible paths.
func transferKey(peerURL, originalPath string) string {
	return peerURL + ":" + originalPath
}

// Callbacks lets the transfer manager observe lifecycle events without the
// sender depending on the manager's queue model.
type Callbacks struct {
	OnStarted   func(t *OutgoingTransfer)
	OnProgress  func(t *OutgoingTransfer)
	OnCompleted func(t *OutgoingTransfer)
	OnFailed    func(t *OutgoingTransfer)
	OnCancelled func(t *OutgoingTransfer)
}

// Sender drives outgoing transfers against peer receivers over HTTP.
type Sender struct {
	client *http.Client
	log    *logging.Logger
	cb     Callbacks

	mu          sync.Mutex
	active      map[string]*OutgoingTransfer
	cancelFuncs map[string]context.CancelFunc
}

// New creates a Sender. cb may have nil fields; absent callbacks are no-ops.
func New(cb Callbacks) *Sender {
	return &Sender{
		client:      httpx.NewRetryingClient(),
		log:         logging.NewWithComponent("sender"),
		cb:          cb,
		active:      make(map[string]*OutgoingTransfer),
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// Cancel aborts the in-flight transfer keyed by (peerURL, originalPath) by
// calling its stored context.CancelFunc: the current HTTP call unblocks
// immediately via ctx.Done() instead of waiting for a chunk-loop boundary.
// Returns false if no such transfer is active.
func (s *Sender) Cancel(peerURL, originalPath string) bool {
	key := transferKey(peerURL, originalPath)
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancelFuncs[key]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (s *Sender) track(key string, t *OutgoingTransfer, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[key] = t
	s.cancelFuncs[key] = cancel
	s.mu.Unlock()
}

func (s *Sender) untrack(key string) {
	s.mu.Lock()
	delete(s.active, key)
	delete(s.cancelFuncs, key)
	s.mu.Unlock()
}

// SendPath sends a file directly, or packs a directory into an archive
// first and sends that, deleting the archive afterward and reporting the
// directory itself (not the archive) as the transfer's path. resumeID, if
// non-empty, is presented to the peer's /transfer/init so the receiver can
// resume a previously interrupted transfer instead of starting fresh.
func (s *Sender) SendPath(ctx context.Context, path, peerURL, resumeID string) (*OutgoingTransfer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		return s.sendFile(ctx, path, path, peerURL, resumeID)
	}

	archivePath, err := archive.Pack(path)
	if err != nil {
		return nil, fmt.Errorf("pack folder %s: %w", path, err)
	}
	t, sendErr := s.sendFile(ctx, archivePath, path, peerURL, resumeID)
	os.Remove(archivePath)
	return t, sendErr
}

// sendFile runs the full PENDING -> ... -> COMPLETED/FAILED/CANCELLED state
// machine for one file already on disk at sourcePath.
func (s *Sender) sendFile(ctx context.Context, sourcePath, originalPath, peerURL, resumeID string) (*OutgoingTransfer, error) {
	key := transferKey(peerURL, originalPath)
	t := &OutgoingTransfer{
		SourcePath:     sourcePath,
		OriginalPath:   originalPath,
		PeerURL:        peerURL,
		Status:         txtype.StatusPending,
		lastSampleTime: time.Now(),
	}

	sendCtx, cancel := context.WithCancel(ctx)
	s.track(key, t, cancel)
	defer func() {
		cancel()
		s.untrack(key)
	}()

	info, err := os.Stat(sourcePath)
	if err != nil {
		t.Err = fmt.Errorf("stat source: %w", err)
		t.setStatus(txtype.StatusFailed)
		s.emit(s.cb.OnFailed, t)
		return t, t.Err
	}
	t.TotalSize = info.Size()

	t.setStatus(txtype.StatusConnecting)
	hash, err := hashutil.HashFile(sourcePath, 1<<20)
	if err != nil {
		t.Err = fmt.Errorf("hash source: %w", err)
		t.setStatus(txtype.StatusFailed)
		s.emit(s.cb.OnFailed, t)
		return t, t.Err
	}
	t.Hash = hash

	initResp, err := s.postInit(sendCtx, peerURL, filepath.Base(sourcePath), t.TotalSize, t.Hash, resumeID)
	if err != nil {
		if sendCtx.Err() != nil {
			t.setStatus(txtype.StatusCancelled)
			s.emit(s.cb.OnCancelled, t)
			return t, nil
		}
		t.Err = fmt.Errorf("init transfer: %w", err)
		t.setStatus(txtype.StatusFailed)
		s.emit(s.cb.OnFailed, t)
		return t, t.Err
	}
	t.TransferID = initResp.TransferID
	t.SentBytes = initResp.ResumeOffset

	// OnStarted fires only once the peer has acknowledged the transfer and
	// minted a transfer-id, so callbacks (e.g. the durable state store) have
	// a real id to key off of from the very first event.
	s.emit(s.cb.OnStarted, t)

	if err := s.transferChunks(sendCtx, t, peerURL, sourcePath); err != nil {
		if err == errCancelledSend || sendCtx.Err() != nil {
			t.setStatus(txtype.StatusCancelled)
			s.emit(s.cb.OnCancelled, t)
			return t, nil
		}
		t.Err = err
		t.setStatus(txtype.StatusFailed)
		s.emit(s.cb.OnFailed, t)
		return t, t.Err
	}

	t.setStatus(txtype.StatusVerifying)
	if err := s.postComplete(sendCtx, peerURL, t.TransferID); err != nil {
		if sendCtx.Err() != nil {
			t.setStatus(txtype.StatusCancelled)
			s.emit(s.cb.OnCancelled, t)
			return t, nil
		}
		t.Err = err
		t.setStatus(txtype.StatusFailed)
		s.emit(s.cb.OnFailed, t)
		return t, t.Err
	}

	t.setStatus(txtype.StatusCompleted)
	s.emit(s.cb.OnCompleted, t)
	return t, nil
}

var errCancelledSend = fmt.Errorf("sender: cancelled")

func (s *Sender) transferChunks(ctx context.Context, t *OutgoingTransfer, peerURL, sourcePath string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	if t.SentBytes > 0 {
		if _, err := f.Seek(t.SentBytes, io.SeekStart); err != nil {
			return fmt.Errorf("seek to resume offset: %w", err)
		}
	}

	t.setStatus(txtype.StatusTransferring)
	buf := make([]byte, constants.ChunkSize)

	for t.SentBytes < t.TotalSize {
		if ctx.Err() != nil {
			return errCancelledSend
		}

		start := t.SentBytes
		end := start + constants.ChunkSize
		if end > t.TotalSize {
			end = t.TotalSize
		}
		n := int(end - start)

		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return fmt.Errorf("read chunk at offset %d: %w", start, err)
		}
		chunk := buf[:n]

		retryCtx := httpx.WithRetryCallback(ctx, func(attempt int, err error) {
			t.RetryCount = attempt
			t.setStatus(txtype.StatusRetrying)
			s.log.Warn().Err(err).Int("attempt", attempt).Str("transfer_id", t.TransferID).Msg("chunk retry")
		})
		if err := s.postChunk(retryCtx, peerURL, t.TransferID, chunk, start, end-1, t.TotalSize); err != nil {
			return fmt.Errorf("max retries exceeded: %w", err)
		}

		t.SentBytes = end
		t.RetryCount = 0
		t.setStatus(txtype.StatusTransferring)
		t.snapshotSpeed(time.Now())
		s.emit(s.cb.OnProgress, t)

		if _, err := f.Seek(end, io.SeekStart); err != nil {
			return fmt.Errorf("reseek after chunk: %w", err)
		}
	}
	return nil
}

func (s *Sender) emit(fn func(*OutgoingTransfer), t *OutgoingTransfer) {
	if fn != nil {
		fn(t)
	}
}

type initResponse struct {
	TransferID   string `json:"transfer_id"`
	ResumeOffset int64  `json:"resume_offset"`
	Status       string `json:"status"`
}

func (s *Sender) postInit(ctx context.Context, peerURL, filename string, size int64, hash, resumeID string) (*initResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"filename":  filename,
		"size":      size,
		"hash":      hash,
		"resume_id": resumeID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/transfer/init", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("init returned status %d", resp.StatusCode)
	}
	var out initResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode init response: %w", err)
	}
	return &out, nil
}

func (s *Sender) postChunk(ctx context.Context, peerURL, transferID string, chunk []byte, start, end, total int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/transfer/chunk", bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("X-Transfer-ID", transferID)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(chunk))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chunk rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (s *Sender) postComplete(ctx context.Context, peerURL, transferID string) error {
	body, _ := json.Marshal(map[string]string{"transfer_id": transferID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/transfer/complete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("complete failed with status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

