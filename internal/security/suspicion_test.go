package security

import (
	"testing"
	"time"
)

func TestSuspicionThresholdExactly20th(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	d := newDetector(clock.Now)

	for i := 1; i <= 19; i++ {
		flagged, count := d.recordAndCheck("U2")
		if flagged {
			t.Fatalf("call %d flagged; 19 calls in a bucket must never flag", i)
		}
		if count != i {
			t.Fatalf("call %d count = %d", i, count)
		}
	}

	flagged, count := d.recordAndCheck("U2")
	if !flagged {
		t.Fatal("20th call in a bucket must flag")
	}
	if count != 20 {
		t.Fatalf("count = %d, want 20", count)
	}

	// later calls in the same bucket keep flagging
	if flagged, _ := d.recordAndCheck("U2"); !flagged {
		t.Fatal("21st call should still flag")
	}
}

func TestSuspicionBucketRollover(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	d := newDetector(clock.Now)

	for i := 0; i < 19; i++ {
		d.recordAndCheck("U1")
	}
	clock.Advance(10 * time.Second) // next bucket
	flagged, count := d.recordAndCheck("U1")
	if flagged || count != 1 {
		t.Fatalf("new bucket should restart: flagged=%v count=%d", flagged, count)
	}
}

func TestSuspicionUsersAreIndependent(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	d := newDetector(clock.Now)

	for i := 0; i < 25; i++ {
		d.recordAndCheck("busy")
	}
	if flagged, _ := d.recordAndCheck("quiet"); flagged {
		t.Fatal("another user's burst must not flag this one")
	}
}

func TestSuspicionSweep(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	d := newDetector(clock.Now)

	d.recordAndCheck("U1") // bucket n
	clock.Advance(30 * time.Second)
	d.recordAndCheck("U1") // bucket n+3
	if d.size() != 2 {
		t.Fatalf("size = %d, want 2", d.size())
	}

	// bucket n is now 7 behind; n+3 is 4 behind and survives
	clock.Advance(40 * time.Second)
	if removed := d.sweep(); removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}
	if removed := d.sweep(); removed != 0 {
		t.Fatalf("second sweep removed %d, want 0", removed)
	}
	if d.size() != 1 {
		t.Fatalf("size = %d, want 1", d.size())
	}
}
