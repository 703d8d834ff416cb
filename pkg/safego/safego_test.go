package safego

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGoDone_SettlesOnReturn(t *testing.T) {
	ran := false
	done := GoDone(zap.NewNop(), "worker", func() { ran = true })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("done channel never closed")
	}
	if !ran {
		t.Fatal("function did not run")
	}
}

func TestGoDone_SettlesOnPanic(t *testing.T) {
	done := GoDone(zap.NewNop(), "panicker", func() {
		panic("boom")
	})

	// The wait must settle even though the worker panicked — a leaked wait
	// here would hang a whole tournament.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panic leaked the wait")
	}
}

func TestGoDone_PanicDoesNotKillOtherWorkers(t *testing.T) {
	logger := zap.NewNop()
	bad := GoDone(logger, "bad", func() { panic("boom") })
	good := GoDone(logger, "good", func() { time.Sleep(10 * time.Millisecond) })

	for _, done := range []<-chan struct{}{bad, good} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker never settled")
		}
	}
}
