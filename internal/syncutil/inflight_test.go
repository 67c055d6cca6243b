package syncutil

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestInflight_TryBegin(t *testing.T) {
	f := NewInflight()

	if !f.TryBegin("a") {
		t.Fatal("first TryBegin should succeed")
	}
	if f.TryBegin("a") {
		t.Fatal("second TryBegin for same key should fail")
	}
	if !f.TryBegin("b") {
		t.Fatal("different key should succeed")
	}

	f.Done("a")
	if !f.TryBegin("a") {
		t.Fatal("TryBegin should succeed after Done")
	}
}

func TestInflight_DoneUnclaimedIsNoop(t *testing.T) {
	f := NewInflight()
	f.Done("never-claimed")
	if f.Len() != 0 {
		t.Errorf("expected empty registry, got %d", f.Len())
	}
}

func TestInflight_ConcurrentSingleWinner(t *testing.T) {
	f := NewInflight()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryBegin("owner|token|spender") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}
