package systems

import (
	"errors"
	"sync"
	"testing"
)

func TestJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Fatalf("got %v", err)
	}
}

func TestJobSystemSingleWorkerKeepsOrder(t *testing.T) {
	js, err := NewJobSystem(1, 4)
	if err != nil {
		t.Fatal(err)
	}
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		js.Submit(JobTask{
			Name:    "append",
			OnStart: func() error { order = append(order, i); return nil },
		})
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order %v", order)
		}
	}
	if len(order) != 10 {
		t.Fatalf("ran %d jobs", len(order))
	}
}

func TestJobSystemCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")

	var mu sync.Mutex
	var completed, failed, finished int
	for i := 0; i < 6; i++ {
		fail := i%2 == 0
		js.Submit(JobTask{
			Name: "callbacks",
			OnStart: func() error {
				if fail {
					return boom
				}
				return nil
			},
			OnComplete: func() { mu.Lock(); completed++; mu.Unlock() },
			OnFailure: func(err error) {
				mu.Lock()
				defer mu.Unlock()
				if errors.Is(err, boom) {
					failed++
				}
			},
			OnCompletionCallback: func() { mu.Lock(); finished++; mu.Unlock() },
		})
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if completed != 3 || failed != 3 || finished != 6 {
		t.Fatalf("completed %d failed %d finished %d", completed, failed, finished)
	}
	// Shutdown twice is fine.
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
}
