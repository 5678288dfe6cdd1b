package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tabmux/tab/internal/assignment"
)

func TestWatchdogCancelsWhenRundirVanishes(t *testing.T) {
	dir, err := os.MkdirTemp("", "supervisor-test")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}

	board := assignment.NewBoard(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s := New(board, dir, cancel)

	runDone := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(runDone)
	}()

	if err := os.Remove(dir); err != nil {
		t.Fatalf("remove: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("watchdog did not cancel context after rundir vanished")
	}
	<-runDone
}

func TestShutdownRunsActionsThenCancels(t *testing.T) {
	board := assignment.NewBoard(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s := New(board, t.TempDir(), cancel)

	go s.Run(ctx)

	ran := false
	s.Shutdown(time.Second, func() { ran = true })

	if !ran {
		t.Fatal("expected actions to run before cancel")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled after Shutdown")
	}
}
