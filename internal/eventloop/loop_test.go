package eventloop_test

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/nixpig/subprocd/internal/eventloop"
)

func startTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()

	loop := eventloop.New()

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)

	go func() {
		errCh <- loop.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		if err := <-errCh; err != nil {
			t.Errorf("expected run not to return error: got '%v'", err)
		}
	})

	waitFor(t, loop.Running)

	return loop
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for loop")
	}

	var zero T
	return zero
}

func TestLoop(t *testing.T) {
	t.Parallel()

	t.Run("Test tasks run in order", func(t *testing.T) {
		t.Parallel()

		loop := startTestLoop(t)

		got := make(chan int, 10)
		for i := range 10 {
			loop.Post(func() { got <- i })
		}

		for want := range 10 {
			if v := receive(t, got); v != want {
				t.Errorf("expected task order: got '%d', want '%d'", v, want)
			}
		}
	})

	t.Run("Test tasks wait for run", func(t *testing.T) {
		t.Parallel()

		loop := eventloop.New()

		ran := make(chan struct{})
		loop.Post(func() { close(ran) })

		select {
		case <-ran:
			t.Fatal("expected task not to run before loop runs")
		case <-time.After(50 * time.Millisecond):
		}

		if loop.Pending() != 1 {
			t.Errorf("expected pending tasks: got '%d', want '1'", loop.Pending())
		}

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		go loop.Run(ctx)

		receive(t, ran)
	})

	t.Run("Test post from running task", func(t *testing.T) {
		t.Parallel()

		loop := startTestLoop(t)

		done := make(chan string, 2)

		loop.Post(func() {
			loop.Post(func() { done <- "inner" })
			done <- "outer"
		})

		if got := receive(t, done); got != "outer" {
			t.Errorf("expected first task: got '%s', want 'outer'", got)
		}

		if got := receive(t, done); got != "inner" {
			t.Errorf("expected second task: got '%s', want 'inner'", got)
		}
	})

	t.Run("Test concurrent run returns error", func(t *testing.T) {
		t.Parallel()

		loop := startTestLoop(t)

		if err := loop.Run(t.Context()); !errors.Is(err, eventloop.ErrLoopRunning) {
			t.Errorf("expected ErrLoopRunning: got '%v'", err)
		}
	})

	t.Run("Test panicking task does not stop loop", func(t *testing.T) {
		t.Parallel()

		loop := startTestLoop(t)

		done := make(chan struct{})

		loop.Post(func() { panic("boom") })
		loop.Post(func() { close(done) })

		receive(t, done)
	})
}

func TestWatchChild(t *testing.T) {
	t.Parallel()

	t.Run("Test exit status is delivered on loop", func(t *testing.T) {
		t.Parallel()

		loop := startTestLoop(t)

		cmd := exec.Command("/bin/sh", "-c", "exit 3")
		if err := cmd.Start(); err != nil {
			t.Fatalf("expected start not to return error: got '%v'", err)
		}

		exits := make(chan eventloop.ChildExit, 1)

		if err := loop.WatchChild(cmd, func(e eventloop.ChildExit) {
			exits <- e
		}); err != nil {
			t.Fatalf("expected watch not to return error: got '%v'", err)
		}

		exit := receive(t, exits)

		if exit.Err != nil {
			t.Errorf("expected exit not to carry error: got '%v'", exit.Err)
		}

		if exit.PID != cmd.Process.Pid {
			t.Errorf("expected pid: got '%d', want '%d'", exit.PID, cmd.Process.Pid)
		}

		if !exit.Status.Exited() || exit.Status.ExitStatus() != 3 {
			t.Errorf("expected exit status: got '%d', want '3'", exit.Status.ExitStatus())
		}
	})

	t.Run("Test signalled child", func(t *testing.T) {
		t.Parallel()

		loop := startTestLoop(t)

		cmd := exec.Command("/bin/sh", "-c", "kill -9 $$")
		if err := cmd.Start(); err != nil {
			t.Fatalf("expected start not to return error: got '%v'", err)
		}

		exits := make(chan eventloop.ChildExit, 1)

		if err := loop.WatchChild(cmd, func(e eventloop.ChildExit) {
			exits <- e
		}); err != nil {
			t.Fatalf("expected watch not to return error: got '%v'", err)
		}

		exit := receive(t, exits)

		if !exit.Status.Signaled() || exit.Status.Signal() != syscall.SIGKILL {
			t.Errorf("expected SIGKILL: got status '%d'", uint32(exit.Status))
		}
	})

	t.Run("Test unstarted command", func(t *testing.T) {
		t.Parallel()

		loop := eventloop.New()

		err := loop.WatchChild(exec.Command("/bin/true"), func(eventloop.ChildExit) {})
		if !errors.Is(err, eventloop.ErrNotStarted) {
			t.Errorf("expected ErrNotStarted: got '%v'", err)
		}
	})
}
