package main

import (
	"errors"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	ds := make([]time.Duration, 0, 10)
	for i := 10; i <= 100; i += 10 {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	cases := []struct {
		q    float64
		want time.Duration
	}{
		{0, 10 * time.Millisecond},
		{0.50, 50 * time.Millisecond},
		{0.95, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := percentile(ds, tc.q); got != tc.want {
			t.Fatalf("percentile(q=%.2f) = %v, want %v", tc.q, got, tc.want)
		}
	}
}

func TestPercentileSingleSample(t *testing.T) {
	ds := []time.Duration{42 * time.Millisecond}
	for _, q := range []float64{0, 0.5, 0.95, 1} {
		if got := percentile(ds, q); got != 42*time.Millisecond {
			t.Fatalf("percentile(q=%.2f) = %v, want 42ms", q, got)
		}
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	ds := []time.Duration{30, 10, 20}
	percentile(ds, 0.5)
	if ds[0] != 30 || ds[1] != 10 || ds[2] != 20 {
		t.Fatalf("input reordered: %v", ds)
	}
}

func TestAwaitReturnsConnectionError(t *testing.T) {
	ch := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	wantErr := errors.New("connection exhausted")
	errCh <- wantErr

	_, err := await(ch, errCh, time.Second)
	if !errors.Is(err, wantErr) {
		t.Fatalf("await() error = %v, want %v", err, wantErr)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	ch := make(chan struct{})
	errCh := make(chan error, 1)

	start := time.Now()
	_, err := await(ch, errCh, 20*time.Millisecond)
	if err == nil {
		t.Fatal("await() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("await() took %v, want prompt timeout", elapsed)
	}
}

func TestDrainEmptiesBacklog(t *testing.T) {
	ch := make(chan struct{}, 8)
	for i := 0; i < 3; i++ {
		ch <- struct{}{}
	}
	drain(ch)
	select {
	case <-ch:
		t.Fatal("channel still has buffered signals after drain")
	default:
	}
}
