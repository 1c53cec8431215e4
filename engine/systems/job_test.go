package systems

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestNewJobSystemValidatesArguments(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Fatalf("expected ErrNegativeChannelSize, got %v", err)
	}
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(4, 0)
	if err != nil {
		t.Fatal(err)
	}

	var completed, failed, ran atomic.Int32
	boom := errors.New("boom")
	for i := 0; i < 20; i++ {
		fail := i%5 == 0
		js.Submit(JobTask{
			Name: "job",
			Run: func() error {
				ran.Add(1)
				if fail {
					return boom
				}
				return nil
			},
			OnComplete: func() { completed.Add(1) },
			OnFailure: func(err error) {
				if errors.Is(err, boom) {
					failed.Add(1)
				}
			},
		})
	}
	js.Wait()

	if ran.Load() != 20 || completed.Load() != 16 || failed.Load() != 4 {
		t.Fatalf("ran %d, completed %d, failed %d", ran.Load(), completed.Load(), failed.Load())
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
}
