package transfer

import (
	"testing"

	"github.com/digster/lan-file-transfer/internal/txtype"
)

func TestTrackOutgoingCreatesPendingEntry(t *testing.T) {
	q := NewQueue(nil)
	t0 := q.TrackOutgoing("q1", "file.bin", 1024, "/tmp/file.bin", "peer", "http://peer:9")

	if t0.Status != txtype.StatusPending {
		t.Errorf("status = %s, want pending", t0.Status)
	}
	if t0.Direction != txtype.DirectionOutgoing {
		t.Errorf("direction = %s, want outgoing", t0.Direction)
	}

	got, ok := q.Get("q1")
	if !ok {
		t.Fatal("expected entry to be retrievable")
	}
	if got.TotalSize != 1024 {
		t.Errorf("TotalSize = %d, want 1024", got.TotalSize)
	}
}

func TestTrackIncomingUsesTransferIDAsQueueID(t *testing.T) {
	q := NewQueue(nil)
	q.TrackIncoming("abc123", "photo.png", 2048, "peer", "http://peer:9")

	got, ok := q.Get("abc123")
	if !ok {
		t.Fatal("expected entry keyed by transfer id")
	}
	if got.Direction != txtype.DirectionIncoming {
		t.Errorf("direction = %s, want incoming", got.Direction)
	}
	if got.Status != txtype.StatusTransferring {
		t.Errorf("status = %s, want transferring", got.Status)
	}
}

func TestCompleteSetsTransferredToTotalAndIsTerminal(t *testing.T) {
	q := NewQueue(nil)
	q.TrackOutgoing("q1", "file.bin", 500, "/tmp/file.bin", "peer", "http://peer:9")
	q.Complete("q1")

	got, _ := q.Get("q1")
	if got.Status != txtype.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Transferred != 500 {
		t.Errorf("Transferred = %d, want 500", got.Transferred)
	}
}

func TestFailSetsStatusAndErrorMessage(t *testing.T) {
	q := NewQueue(nil)
	q.TrackOutgoing("q1", "file.bin", 500, "/tmp/file.bin", "peer", "http://peer:9")
	q.Fail("q1", "connection reset")

	got, _ := q.Get("q1")
	if got.Status != txtype.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error != "connection reset" {
		t.Errorf("Error = %q, want %q", got.Error, "connection reset")
	}
}

func TestCancelReturnsFalseForUnknownOrTerminalEntries(t *testing.T) {
	q := NewQueue(nil)
	if q.Cancel("nope") {
		t.Error("expected false for unknown queue id")
	}

	q.TrackOutgoing("q1", "file.bin", 500, "/tmp/file.bin", "peer", "http://peer:9")
	q.Complete("q1")
	if q.Cancel("q1") {
		t.Error("expected false for already-terminal entry")
	}
}

func TestCancelMarksActiveEntryCancelled(t *testing.T) {
	q := NewQueue(nil)
	q.TrackOutgoing("q1", "file.bin", 500, "/tmp/file.bin", "peer", "http://peer:9")
	if !q.Cancel("q1") {
		t.Fatal("expected Cancel to succeed on a pending entry")
	}
	got, _ := q.Get("q1")
	if got.Status != txtype.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestClearCompletedKeepsOnlyNonTerminalEntries(t *testing.T) {
	q := NewQueue(nil)
	q.TrackOutgoing("done", "a.bin", 10, "/a", "peer", "http://peer:9")
	q.Complete("done")
	q.TrackOutgoing("active", "b.bin", 10, "/b", "peer", "http://peer:9")

	q.ClearCompleted()

	if _, ok := q.Get("done"); ok {
		t.Error("expected completed entry to be cleared")
	}
	if _, ok := q.Get("active"); !ok {
		t.Error("expected active entry to survive clearing")
	}
}

func TestFindBySourcePathMatchesOutgoingOnly(t *testing.T) {
	q := NewQueue(nil)
	q.TrackIncoming("in1", "c.bin", 10, "peer", "http://peer:9")
	q.TrackOutgoing("out1", "d.bin", 10, "/d", "peer", "http://peer:9")

	found, ok := q.FindBySourcePath("/d")
	if !ok {
		t.Fatal("expected to find the outgoing entry by source path")
	}
	if found.QueueID != "out1" {
		t.Errorf("QueueID = %s, want out1", found.QueueID)
	}

	if _, ok := q.FindBySourcePath("/does-not-exist"); ok {
		t.Error("expected no match for unknown source path")
	}
}

func TestStatsCountsEntriesByStatus(t *testing.T) {
	q := NewQueue(nil)
	q.TrackOutgoing("pending1", "a.bin", 10, "/a", "peer", "http://peer:9")
	q.TrackOutgoing("completed1", "b.bin", 10, "/b", "peer", "http://peer:9")
	q.Complete("completed1")
	q.TrackOutgoing("failed1", "c.bin", 10, "/c", "peer", "http://peer:9")
	q.Fail("failed1", "boom")

	stats := q.Stats()
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.Total() != 3 {
		t.Errorf("Total() = %d, want 3", stats.Total())
	}
}

func TestCompleteAndFailAreSafeWithNilBus(t *testing.T) {
	q := NewQueue(nil)
	q.TrackOutgoing("q1", "a.bin", 10, "/a", "peer", "http://peer:9")
	q.Complete("q1")

	q.TrackOutgoing("q2", "b.bin", 10, "/b", "peer", "http://peer:9")
	q.Fail("q2", "boom")
}
