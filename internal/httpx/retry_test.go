package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCalculateBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s would exceed the cap
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		got := CalculateBackoff(c.attempt, 1*time.Second, 30*time.Second)
		if got != c.want {
			t.Errorf("CalculateBackoff(%d): got %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestDeterministicBackoffMatchesZeroIndexedAttempts(t *testing.T) {
	cases := []struct {
		attemptNum int
		want       time.Duration
	}{
		{0, 1 * time.Second},  // first retry
		{1, 2 * time.Second},  // second retry
		{4, 16 * time.Second}, // fifth retry
	}
	for _, c := range cases {
		got := deterministicBackoff(1*time.Second, 30*time.Second, c.attemptNum, nil)
		if got != c.want {
			t.Errorf("deterministicBackoff(attemptNum=%d): got %v, want %v", c.attemptNum, got, c.want)
		}
	}
}

func TestNewRetryingClientRetriesOn5xxThenSucceeds(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewRetryingClient()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("final status = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestNewRetryingClientInvokesRetryCallback(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var callbackAttempts int32
	ctx := WithRetryCallback(context.Background(), func(attempt int, err error) {
		atomic.StoreInt32(&callbackAttempts, int32(attempt))
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := NewRetryingClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if got := atomic.LoadInt32(&callbackAttempts); got != 1 {
		t.Errorf("expected callback to fire for retry attempt 1, got %d", got)
	}
}

func TestNewRetryingClientRetriesOn4xxThenSucceeds(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewRetryingClient()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("final status = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Errorf("expected 3 attempts (DefaultRetryPolicy would have stopped after the first 400), got %d", got)
	}
}

func TestNewRetryingClientStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	_, err = NewRetryingClient().Do(req)
	if err == nil {
		t.Fatal("expected error from a cancelled context")
	}
}
