// Package utils holds test helpers shared by the listener and transport
// packages.
package utils

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
	"time"
)

// modulePath marks stack frames belonging to this module
const modulePath = "github.com/ajitpratap0/wsrm-go/"

// GoroutineLeakDetector fails a test when goroutines started during it are
// still running once it ends. Listeners stop their pumps asynchronously, so
// Check polls until the count settles or the deadline passes.
type GoroutineLeakDetector struct {
	tb             testing.TB
	initialCount   int
	allowedGrowth  int
	pollInterval   time.Duration
	stabilizeDelay time.Duration
}

// NewGoroutineLeakDetector creates a detector reporting to tb
func NewGoroutineLeakDetector(tb testing.TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		tb:             tb,
		pollInterval:   20 * time.Millisecond,
		stabilizeDelay: 200 * time.Millisecond,
	}
}

// Start records the baseline
func (d *GoroutineLeakDetector) Start() {
	time.Sleep(d.stabilizeDelay)
	d.initialCount = runtime.NumGoroutine()
}

// Check waits up to the stabilize delay for the goroutine count to fall
// back to the baseline plus the allowed growth
func (d *GoroutineLeakDetector) Check() {
	d.tb.Helper()
	deadline := time.Now().Add(d.stabilizeDelay)
	count := runtime.NumGoroutine()
	for count-d.initialCount > d.allowedGrowth && time.Now().Before(deadline) {
		time.Sleep(d.pollInterval)
		count = runtime.NumGoroutine()
	}

	leaked := count - d.initialCount
	if leaked <= d.allowedGrowth {
		return
	}
	d.tb.Errorf("goroutine leak: started with %d, ended with %d (leaked %d, allowed %d)",
		d.initialCount, count, leaked, d.allowedGrowth)
	if stacks := ModuleStacks(); stacks != "" {
		d.tb.Logf("goroutines in this module:\n%s", stacks)
	}
}

// SetAllowedGrowth sets how many extra goroutines Check tolerates
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetStabilizeDelay sets how long Start waits and Check polls
func (d *GoroutineLeakDetector) SetStabilizeDelay(delay time.Duration) *GoroutineLeakDetector {
	d.stabilizeDelay = delay
	return d
}

// ModuleStacks returns the stacks of running goroutines with a frame in this
// module, excluding the caller's
func ModuleStacks() string {
	buf := make([]byte, 1<<20)
	buf = buf[:runtime.Stack(buf, true)]

	var out []string
	for _, stack := range bytes.Split(buf, []byte("\n\n")) {
		s := string(stack)
		if strings.Contains(s, modulePath) && !strings.Contains(s, "utils.ModuleStacks") {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}
