package main

import (
	"context"
	"errors"
	"testing"
)

type scriptedSweeper struct {
	results []int
	err     error
	calls   int
}

func (s *scriptedSweeper) SweepOnce(context.Context) (int, error) {
	defer func() { s.calls++ }()
	if s.calls >= len(s.results) {
		return 0, s.err
	}
	return s.results[s.calls], nil
}

func TestSweep_StopsOnPartialBatch(t *testing.T) {
	s := &scriptedSweeper{results: []int{10, 10, 3, 10}}

	total, err := sweep(context.Background(), s, 10, 100)
	if err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if total != 23 || s.calls != 3 {
		t.Fatalf("total = %d calls = %d, want 23 and 3", total, s.calls)
	}
}

func TestSweep_RespectsMaxPasses(t *testing.T) {
	s := &scriptedSweeper{results: []int{5, 5, 5, 5}}

	total, err := sweep(context.Background(), s, 5, 2)
	if err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if total != 10 || s.calls != 2 {
		t.Fatalf("total = %d calls = %d, want 10 and 2", total, s.calls)
	}
}

func TestSweep_ReturnsError(t *testing.T) {
	boom := errors.New("gateway down")
	s := &scriptedSweeper{results: []int{4}, err: boom}

	total, err := sweep(context.Background(), s, 4, 5)
	if !errors.Is(err, boom) || total != 4 {
		t.Fatalf("total = %d err = %v", total, err)
	}
}
