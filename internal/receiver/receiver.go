// Package receiver implements the HTTP server side of the chunked transfer
// protocol: init, chunk, complete, status, and cancel endpoints.
package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/digster/lan-file-transfer/internal/archive"
	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/hashutil"
	"github.com/digster/lan-file-transfer/internal/idgen"
	"github.com/digster/lan-file-transfer/internal/logging"
)

// IncomingTransfer is the receiver-side record of one in-flight receipt.
type IncomingTransfer struct {
	TransferID   string
	Filename     string
	TotalSize    int64
	ExpectedHash string
	ReceivedBytes int64
	TempPath     string
	FinalPath    string
	Hash         *hashutil.RunningHash
	Completed    bool
	Err          error

	mu sync.Mutex
	f  *os.File
}

// ResumeRecord is the durable information needed to rehydrate an incoming
// transfer this process has lost track of in memory (e.g. after a crash
// restart left the temp file on disk but dropped the in-memory bookkeeping).
type ResumeRecord struct {
	Filename     string
	TotalSize    int64
	ExpectedHash string
	TempPath     string
	FinalPath    string
}

// Callbacks lets the transfer manager observe lifecycle events.
type Callbacks struct {
	OnStarted   func(t *IncomingTransfer)
	OnProgress  func(t *IncomingTransfer)
	OnCompleted func(t *IncomingTransfer, extracted bool)
	OnFailed    func(t *IncomingTransfer, err error)
	OnCancelled func(t *IncomingTransfer)

	// Lookup resolves a resume-id against the durable store when no
	// in-memory IncomingTransfer matches it. May be nil to disable
	// cross-restart resume entirely.
	Lookup func(resumeID string) (ResumeRecord, bool)
}

// Receiver is the HTTP server accepting incoming transfers.
type Receiver struct {
	downloadDir string
	log         *logging.Logger
	cb          Callbacks

	mu        sync.Mutex
	transfers map[string]*IncomingTransfer

	srv *http.Server
}

// New creates a Receiver that writes finished files under downloadDir.
func New(downloadDir string, cb Callbacks) *Receiver {
	return &Receiver{
		downloadDir: downloadDir,
		log:         logging.NewWithComponent("receiver"),
		cb:          cb,
		transfers:   make(map[string]*IncomingTransfer),
	}
}

// Handler returns the http.Handler implementing every endpoint, for tests
// or for embedding in a larger mux.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", r.handleStatus)
	mux.HandleFunc("POST /transfer/init", r.handleInit)
	mux.HandleFunc("POST /transfer/chunk", r.handleChunk)
	mux.HandleFunc("POST /transfer/complete", r.handleComplete)
	mux.HandleFunc("GET /transfer/{id}/status", r.handleTransferStatus)
	mux.HandleFunc("DELETE /transfer/{id}", r.handleCancel)
	return mux
}

// ListenAndServe binds 0.0.0.0:port and serves until Shutdown is called.
func (r *Receiver) ListenAndServe(port int) error {
	r.srv = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", port),
		Handler: r.Handler(),
	}
	r.log.Info().Int("port", port).Msg("receiver listening")
	err := r.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server and removes every live temp file.
func (r *Receiver) Shutdown() error {
	r.mu.Lock()
	temps := make([]string, 0, len(r.transfers))
	for _, t := range r.transfers {
		temps = append(temps, t.TempPath)
	}
	r.transfers = make(map[string]*IncomingTransfer)
	r.mu.Unlock()

	for _, path := range temps {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("path", path).Msg("failed to remove temp file on shutdown")
		}
	}

	if r.srv != nil {
		return r.srv.Close()
	}
	return nil
}

func (r *Receiver) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

func (r *Receiver) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_transfers": r.activeCount(),
	})
}

type initRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	ResumeID string `json:"resume_id"`
}

func (r *Receiver) handleInit(w http.ResponseWriter, req *http.Request) {
	var in initRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}
	if in.Filename == "" || in.Size < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing filename or size"})
		return
	}

	if in.ResumeID != "" {
		r.mu.Lock()
		existing, ok := r.transfers[in.ResumeID]
		r.mu.Unlock()
		if ok {
			existing.mu.Lock()
			matches := existing.Filename == in.Filename && existing.TotalSize == in.Size
			offset := existing.ReceivedBytes
			existing.mu.Unlock()
			if matches {
				writeJSON(w, http.StatusOK, map[string]any{
					"transfer_id":   existing.TransferID,
					"resume_offset": offset,
					"status":        "resuming",
				})
				return
			}
		} else if t, ok := r.rehydrateFromStore(in.ResumeID, in.Filename, in.Size); ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"transfer_id":   t.TransferID,
				"resume_offset": t.ReceivedBytes,
				"status":        "resuming",
			})
			return
		}
	}

	id := idgen.New()
	finalPath := resolveConflict(filepath.Join(r.downloadDir, in.Filename))
	tempPath := filepath.Join(r.downloadDir, fmt.Sprintf(".%s_%s.part", id, filepath.Base(in.Filename)))

	if err := os.MkdirAll(r.downloadDir, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "cannot create download directory"})
		return
	}
	f, err := os.Create(tempPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "cannot create temp file"})
		return
	}

	t := &IncomingTransfer{
		TransferID:   id,
		Filename:     in.Filename,
		TotalSize:    in.Size,
		ExpectedHash: in.Hash,
		TempPath:     tempPath,
		FinalPath:    finalPath,
		Hash:         hashutil.NewRunningHash(),
		f:            f,
	}

	r.mu.Lock()
	r.transfers[id] = t
	r.mu.Unlock()

	if r.cb.OnStarted != nil {
		r.cb.OnStarted(t)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transfer_id":   id,
		"resume_offset": 0,
		"status":        "ready",
	})
}

// rehydrateFromStore reconstructs in-memory bookkeeping for a transfer this
// process lost track of (a crash restart forgets every IncomingTransfer but
// a temp file on disk can outlive the process that created it), using the
// durable store plus whatever bytes the prior attempt already wrote. Returns
// ok=false if no lookup is wired, no record matches filename and size, or
// the temp file is gone — a graceful Shutdown always removes live temp
// files, so its absence means the prior attempt never left anything to
// resume.
func (r *Receiver) rehydrateFromStore(resumeID, filename string, size int64) (*IncomingTransfer, bool) {
	if r.cb.Lookup == nil {
		return nil, false
	}
	rec, ok := r.cb.Lookup(resumeID)
	if !ok || rec.Filename != filename || rec.TotalSize != size {
		return nil, false
	}

	f, err := os.OpenFile(rec.TempPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false
	}
	runningHash, received, err := rehydrateRunningHash(rec.TempPath)
	if err != nil {
		f.Close()
		return nil, false
	}

	t := &IncomingTransfer{
		TransferID:    resumeID,
		Filename:      rec.Filename,
		TotalSize:     rec.TotalSize,
		ExpectedHash:  rec.ExpectedHash,
		ReceivedBytes: received,
		TempPath:      rec.TempPath,
		FinalPath:     rec.FinalPath,
		Hash:          runningHash,
		f:             f,
	}

	r.mu.Lock()
	r.transfers[resumeID] = t
	r.mu.Unlock()

	if r.cb.OnStarted != nil {
		r.cb.OnStarted(t)
	}
	return t, true
}

// rehydrateRunningHash re-derives the running SHA-256 digest of everything
// already written to an in-progress temp file, so a resumed transfer's
// final hash check still covers the bytes received before the restart.
func rehydrateRunningHash(path string) (*hashutil.RunningHash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	h := hashutil.NewRunningHash()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h, n, nil
}

// resolveConflict appends "_1", "_2", ... before the extension until the
// path is free.
func resolveConflict(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

func (r *Receiver) handleChunk(w http.ResponseWriter, req *http.Request) {
	id := req.Header.Get("X-Transfer-ID")
	r.mu.Lock()
	t, ok := r.transfers[id]
	r.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown transfer id"})
		return
	}

	start, _, total, err := parseContentRange(req.Header.Get("Content-Range"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	t.mu.Lock()
	if start != t.ReceivedBytes {
		expected, received := t.ReceivedBytes, start
		t.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"expected": expected, "received": received})
		return
	}
	t.mu.Unlock()

	body := http.MaxBytesReader(w, req.Body, constants.MaxChunkBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "chunk body too large or unreadable"})
		return
	}

	t.mu.Lock()
	if _, err := t.f.Write(data); err != nil {
		t.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "write failed"})
		return
	}
	t.Hash.Write(data)
	t.ReceivedBytes += int64(len(data))
	received := t.ReceivedBytes
	t.mu.Unlock()

	if r.cb.OnProgress != nil {
		r.cb.OnProgress(t)
	}

	progress := 0.0
	if total > 0 {
		progress = float64(received) / float64(total)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"received": received,
		"total":    total,
		"progress": progress,
	})
}

// parseContentRange parses "bytes <start>-<end>/<total>".
func parseContentRange(header string) (start, end, total int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range header")
	}
	rest := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range header")
	}
	rangeParts := strings.SplitN(parts[0], "-", 2)
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range header")
	}
	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range start")
	}
	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range end")
	}
	total, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range total")
	}
	return start, end, total, nil
}

type completeRequest struct {
	TransferID string `json:"transfer_id"`
}

func (r *Receiver) handleComplete(w http.ResponseWriter, req *http.Request) {
	var in completeRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}

	r.mu.Lock()
	t, ok := r.transfers[in.TransferID]
	r.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown transfer id"})
		return
	}

	t.mu.Lock()
	if t.ReceivedBytes != t.TotalSize {
		received, total := t.ReceivedBytes, t.TotalSize
		t.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "incomplete", "received": received, "total": total})
		return
	}
	computedHash := t.Hash.Sum()
	t.f.Close()
	t.mu.Unlock()

	if t.ExpectedHash != "" && computedHash != t.ExpectedHash {
		os.Remove(t.TempPath)
		r.drop(in.TransferID)
		failErr := fmt.Errorf("hash mismatch: expected %s, got %s", t.ExpectedHash, computedHash)
		if r.cb.OnFailed != nil {
			r.cb.OnFailed(t, failErr)
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":         "hash mismatch",
			"expected_hash": t.ExpectedHash,
			"computed_hash": computedHash,
		})
		return
	}

	if err := renameOrCopy(t.TempPath, t.FinalPath); err != nil {
		r.drop(in.TransferID)
		if r.cb.OnFailed != nil {
			r.cb.OnFailed(t, err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	extracted := false
	if strings.HasSuffix(t.FinalPath, ".tar.gz") {
		if _, err := archive.Unpack(t.FinalPath); err == nil {
			extracted = true
		} else {
			r.log.Warn().Err(err).Str("path", t.FinalPath).Msg("archive extraction failed, leaving archive in place")
		}
	}

	t.Completed = true
	r.drop(in.TransferID)
	if r.cb.OnCompleted != nil {
		r.cb.OnCompleted(t, extracted)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "completed",
		"path":          t.FinalPath,
		"size":          t.TotalSize,
		"hash_verified": t.ExpectedHash != "",
		"extracted":     extracted,
	})
}

// renameOrCopy performs an atomic rename, falling back to copy-to-sibling-
// temp-then-atomic-rename-within-destination-filesystem when the temp file
// and final path live on different devices.
func renameOrCopy(tempPath, finalPath string) error {
	if err := os.Rename(tempPath, finalPath); err == nil {
		return nil
	} else if !isCrossDeviceError(err) {
		return fmt.Errorf("rename temp to final: %w", err)
	}

	sibling := finalPath + ".copying"
	src, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("open temp for cross-device copy: %w", err)
	}
	dst, err := os.Create(sibling)
	if err != nil {
		src.Close()
		return fmt.Errorf("create sibling temp: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		src.Close()
		dst.Close()
		os.Remove(sibling)
		return fmt.Errorf("copy to sibling temp: %w", err)
	}
	src.Close()
	dst.Close()

	if err := os.Rename(sibling, finalPath); err != nil {
		os.Remove(sibling)
		return fmt.Errorf("atomic rename of sibling temp: %w", err)
	}
	os.Remove(tempPath)
	return nil
}

func isCrossDeviceError(err error) bool {
	return strings.Contains(err.Error(), "cross-device") || strings.Contains(err.Error(), "invalid cross-device link")
}

func (r *Receiver) drop(id string) {
	r.mu.Lock()
	delete(r.transfers, id)
	r.mu.Unlock()
}

func (r *Receiver) handleTransferStatus(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	r.mu.Lock()
	t, ok := r.transfers[id]
	r.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown transfer id"})
		return
	}

	t.mu.Lock()
	received, total := t.ReceivedBytes, t.TotalSize
	t.mu.Unlock()

	progress := 0.0
	if total > 0 {
		progress = float64(received) / float64(total)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transfer_id": id,
		"received":    received,
		"total":       total,
		"progress":    progress,
	})
}

func (r *Receiver) handleCancel(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	r.mu.Lock()
	t, ok := r.transfers[id]
	if ok {
		delete(r.transfers, id)
	}
	r.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown transfer id"})
		return
	}

	t.mu.Lock()
	t.f.Close()
	t.mu.Unlock()
	os.Remove(t.TempPath)

	if r.cb.OnCancelled != nil {
		r.cb.OnCancelled(t)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
