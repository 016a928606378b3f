package receiver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/digster/lan-file-transfer/internal/hashutil"
)

func initTransfer(t *testing.T, srv *httptest.Server, filename string, size int64, hash string) map[string]any {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"filename": filename, "size": size, "hash": hash})
	resp, err := http.Post(srv.URL+"/transfer/init", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("init request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	out["_status"] = resp.StatusCode
	return out
}

func postChunk(t *testing.T, srv *httptest.Server, transferID string, data []byte, start, end, total int64) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/transfer/chunk", bytes.NewReader(data))
	req.Header.Set("X-Transfer-ID", transferID)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("chunk request: %v", err)
	}
	return resp
}

func postComplete(t *testing.T, srv *httptest.Server, transferID string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"transfer_id": transferID})
	resp, err := http.Post(srv.URL+"/transfer/complete", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("complete request: %v", err)
	}
	return resp
}

func TestHappyFileThreeChunks(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Callbacks{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	data := make([]byte, 3*1024*1024)
	for i := range data {
		data[i] = 0xAB
	}
	hash := hashutil.HashBytes(data)

	init := initTransfer(t, srv, "payload.bin", int64(len(data)), hash)
	transferID, _ := init["transfer_id"].(string)
	if transferID == "" {
		t.Fatalf("expected a transfer id, got %+v", init)
	}

	const chunkSize = 1024 * 1024
	for start := int64(0); start < int64(len(data)); start += chunkSize {
		end := start + chunkSize - 1
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		resp := postChunk(t, srv, transferID, data[start:end+1], start, end, int64(len(data)))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("chunk at %d: status %d", start, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := postComplete(t, srv, transferID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["hash_verified"] != true {
		t.Errorf("expected hash_verified=true, got %+v", out)
	}

	finalPath := filepath.Join(dir, "payload.bin")
	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	gotHash := hashutil.HashBytes(got)
	if gotHash != hash {
		t.Errorf("final file hash mismatch: got %s want %s", gotHash, hash)
	}
}

func TestHashMismatchLeavesNoFinalFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Callbacks{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	data := []byte("some random bytes, 1024 long......................................")
	declaredHash := ""
	for i := 0; i < 32; i++ {
		declaredHash += "00"
	}

	init := initTransfer(t, srv, "mismatch.bin", int64(len(data)), declaredHash)
	transferID := init["transfer_id"].(string)

	resp := postChunk(t, srv, transferID, data, 0, int64(len(data))-1, int64(len(data)))
	resp.Body.Close()

	resp = postComplete(t, srv, transferID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on hash mismatch, got %d", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["expected_hash"] != declaredHash {
		t.Errorf("expected expected_hash in response, got %+v", out)
	}

	if _, err := os.Stat(filepath.Join(dir, "mismatch.bin")); !os.IsNotExist(err) {
		t.Error("expected no final file after hash mismatch")
	}
}

func TestOutOfOrderChunkRejected(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Callbacks{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	init := initTransfer(t, srv, "f.bin", 10, "")
	transferID := init["transfer_id"].(string)

	resp := postChunk(t, srv, transferID, []byte("12345"), 5, 9, 10)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-order chunk, got %d", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if _, ok := out["expected"]; !ok {
		t.Errorf("expected 'expected' field in error body, got %+v", out)
	}
}

func TestUnknownTransferIDRejected(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Callbacks{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp := postChunk(t, srv, "deadbeef", []byte("x"), 0, 0, 1)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown transfer id, got %d", resp.StatusCode)
	}
}

func TestConflictNamingAppendsSuffix(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed existing file: %v", err)
	}

	r := New(dir, Callbacks{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	init := initTransfer(t, srv, "dup.txt", 5, "")
	transferID := init["transfer_id"].(string)

	resp := postChunk(t, srv, transferID, []byte("hello"), 0, 4, 5)
	resp.Body.Close()
	resp = postComplete(t, srv, transferID)
	resp.Body.Close()

	if _, err := os.Stat(filepath.Join(dir, "dup_1.txt")); err != nil {
		t.Errorf("expected conflict-suffixed file dup_1.txt, stat err=%v", err)
	}
}

func TestCancelRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Callbacks{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	init := initTransfer(t, srv, "cancelme.bin", 100, "")
	transferID := init["transfer_id"].(string)

	resp := postChunk(t, srv, transferID, make([]byte, 50), 0, 49, 100)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/transfer/"+transferID, nil)
	cancelResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel request: %v", err)
	}
	defer cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d", cancelResp.StatusCode)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".part" {
			t.Errorf("expected temp file removed after cancel, found %s", e.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "cancelme.bin")); !os.IsNotExist(err) {
		t.Error("expected no final file after cancel")
	}
}

func TestZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Callbacks{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	emptyHash := hashutil.ZeroHash
	init := initTransfer(t, srv, "empty.bin", 0, emptyHash)
	transferID := init["transfer_id"].(string)

	resp := postComplete(t, srv, transferID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 completing a zero-byte file, got %d", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["hash_verified"] != true {
		t.Errorf("expected hash_verified=true for zero-byte file, got %+v", out)
	}
}
