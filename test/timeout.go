package test

import (
	"os"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

// defaultGuardTimeout is the deadline applied when Guard is called without
// an explicit timeout. Trade lifecycle tests drive scripted backends with
// millisecond poll intervals, so a stuck test is stuck, not slow.
const defaultGuardTimeout = 5 * time.Second

// Guard bounds a test's runtime and checks for leaked goroutines. When the
// deadline passes before the returned stop function runs, the goroutine
// profile is dumped and the test binary panics so the blocked stack is
// visible. Use as:
//
//	defer test.Guard(t)()
func Guard(t *testing.T, timeout ...time.Duration) func() {
	deadline := defaultGuardTimeout
	if len(timeout) > 0 {
		deadline = timeout[0]
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-time.After(deadline):
			err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
			if err != nil {
				panic(err)
			}

			panic("test deadline passed")

		case <-stopped:
		}
	}()

	checkLeaks := leaktest.Check(t)

	return func() {
		close(stopped)
		checkLeaks()
	}
}
