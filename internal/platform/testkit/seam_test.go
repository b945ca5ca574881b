package testkit

import (
	"sync/atomic"
	"testing"
	"time"
)

var dialSeam = func(addr string) string { return "dial " + addr }

func TestSwap_RestoresAfterSubtest(t *testing.T) {
	t.Run("swapped", func(t *testing.T) {
		Swap(t, &dialSeam, func(string) string { return "fake" })
		if got := dialSeam("nats://x"); got != "fake" {
			t.Fatalf("seam not replaced: %q", got)
		}
	})
	if got := dialSeam("nats://x"); got != "dial nats://x" {
		t.Fatalf("seam not restored: %q", got)
	}
}

func TestSerial_NoOverlap(t *testing.T) {
	var active, peak atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			Serial(t)
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		})
	}
	t.Cleanup(func() {
		if p := peak.Load(); p != 1 {
			t.Fatalf("serial tests overlapped, peak %d", p)
		}
	})
}
