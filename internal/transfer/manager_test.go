package transfer

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/digster/lan-file-transfer/internal/txtype"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestQueueSendCreatesPendingEntryAndEnqueuesJob(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(srcPath, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	m := New(nil, t.TempDir(), freePort(t), nil)

	queueID, err := m.QueueSend(srcPath, "http://127.0.0.1:9", "peer-b")
	if err != nil {
		t.Fatalf("QueueSend: %v", err)
	}

	entry, ok := m.Queue().Get(queueID)
	if !ok {
		t.Fatal("expected a queued entry")
	}
	if entry.Status != txtype.StatusPending {
		t.Errorf("expected status pending, got %s", entry.Status)
	}
	if entry.TotalSize != int64(len("hello world")) {
		t.Errorf("expected total size %d, got %d", len("hello world"), entry.TotalSize)
	}
	if entry.Direction != txtype.DirectionOutgoing {
		t.Errorf("expected outgoing direction, got %s", entry.Direction)
	}
	if got := len(m.jobs); got != 1 {
		t.Errorf("expected 1 enqueued send job, got %d", got)
	}
}

func TestCancelTransferUnknownOrCompletedReturnsFalse(t *testing.T) {
	m := New(nil, t.TempDir(), freePort(t), nil)

	if m.CancelTransfer("does-not-exist") {
		t.Error("expected false for unknown queue id")
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "f.bin")
	os.WriteFile(srcPath, []byte("x"), 0o644)
	queueID, err := m.QueueSend(srcPath, "http://127.0.0.1:9", "peer-b")
	if err != nil {
		t.Fatalf("QueueSend: %v", err)
	}
	m.Queue().Complete(queueID)

	if m.CancelTransfer(queueID) {
		t.Error("expected false for an already-completed transfer")
	}
}

func TestClearCompletedRemovesOnlyTerminalEntries(t *testing.T) {
	m := New(nil, t.TempDir(), freePort(t), nil)

	dir := t.TempDir()
	pendingPath := filepath.Join(dir, "pending.bin")
	donePath := filepath.Join(dir, "done.bin")
	os.WriteFile(pendingPath, []byte("p"), 0o644)
	os.WriteFile(donePath, []byte("d"), 0o644)

	pendingID, _ := m.QueueSend(pendingPath, "http://127.0.0.1:9", "peer-b")
	doneID, _ := m.QueueSend(donePath, "http://127.0.0.1:9", "peer-b")
	m.Queue().Complete(doneID)

	m.ClearCompleted()

	if _, ok := m.Queue().Get(doneID); ok {
		t.Error("expected completed entry to be cleared")
	}
	if _, ok := m.Queue().Get(pendingID); !ok {
		t.Error("expected pending entry to survive ClearCompleted")
	}
}

// TestEndToEndSendReceive wires a real Manager (receiver+sender+queue) on a
// loopback port and drives a full queue_send -> worker -> send_path ->
// receiver flow, asserting both sides converge on a completed queue entry.
func TestEndToEndSendReceive(t *testing.T) {
	receiverDir := t.TempDir()
	receiverPort := freePort(t)
	receiverMgr := New(nil, receiverDir, receiverPort, nil)
	if err := receiverMgr.Start(); err != nil {
		t.Fatalf("start receiver manager: %v", err)
	}
	defer receiverMgr.Stop()

	// Give the listener a moment to bind.
	time.Sleep(50 * time.Millisecond)

	senderMgr := New(nil, t.TempDir(), freePort(t), nil)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "payload.bin")
	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := os.WriteFile(srcPath, payload, 0o644); err != nil {
		t.Fatalf("write source payload: %v", err)
	}

	peerURL := "http://127.0.0.1:" + strconv.Itoa(receiverPort)
	queueID, err := senderMgr.QueueSend(srcPath, peerURL, "receiver-peer")
	if err != nil {
		t.Fatalf("QueueSend: %v", err)
	}
	if err := senderMgr.Start(); err != nil {
		t.Fatalf("start sender manager: %v", err)
	}
	defer senderMgr.Stop()

	deadline := time.Now().Add(5 * time.Second)
	var final QueuedTransfer
	for time.Now().Before(deadline) {
		entry, ok := senderMgr.Queue().Get(queueID)
		if ok && entry.Status.IsTerminal() {
			final = entry
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if final.Status != txtype.StatusCompleted {
		t.Fatalf("expected sender-side queue entry to complete, got status=%s error=%s", final.Status, final.Error)
	}

	got, err := os.ReadFile(filepath.Join(receiverDir, "payload.bin"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("expected %d bytes received, got %d", len(payload), len(got))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte mismatch at offset %d", i)
		}
	}
}
