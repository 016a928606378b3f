package format

import "testing"

func TestSize(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 KB"},
		{1500, "1.5 KB"},
		{3_000_000, "3.0 MB"},
		{2_500_000_000, "2.5 GB"},
	}
	for _, c := range cases {
		if got := Size(c.bytes); got != c.want {
			t.Errorf("Size(%d) = %q, want %q", c.bytes, got, c.want)
		}
	}
}

func TestSpeed(t *testing.T) {
	if got, want := Speed(1_000_000), "1.0 MB/s"; got != want {
		t.Errorf("Speed(1_000_000) = %q, want %q", got, want)
	}
}

func TestETAUnknownWhenNoSpeed(t *testing.T) {
	if got := ETA(1000, 0); got != "unknown" {
		t.Errorf("expected unknown ETA for zero speed, got %q", got)
	}
}

func TestETAComputesRemaining(t *testing.T) {
	got := ETA(1000, 1000)
	if got != "1s" {
		t.Errorf("expected 1s for 1000 bytes at 1000 B/s, got %q", got)
	}
}
