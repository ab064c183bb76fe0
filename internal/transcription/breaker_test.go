package transcription

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// TestBreakerOpensAtThreshold verifies the circuit opens exactly at the
// configured consecutive-failure count.
func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute, testEntry())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if cb.IsOpen() {
			t.Fatalf("circuit open after %d failures, threshold is 5", i+1)
		}
	}
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("circuit should be open after 5 failures")
	}
}

// TestBreakerSuccessResets verifies a success clears the count.
func TestBreakerSuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, testEntry())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.IsOpen() {
		t.Fatal("success should have reset the failure count")
	}
	if cb.FailureCount() != 2 {
		t.Fatalf("failure count = %d, want 2", cb.FailureCount())
	}
}

// TestBreakerLazyReset verifies the circuit closes once the reset window
// elapses, without any timer.
func TestBreakerLazyReset(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, testEntry())

	base := time.Now()
	cb.now = func() time.Time { return base }

	cb.RecordFailure()
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("circuit should be open")
	}

	cb.now = func() time.Time { return base.Add(59 * time.Second) }
	if !cb.IsOpen() {
		t.Fatal("circuit should stay open inside the reset window")
	}

	cb.now = func() time.Time { return base.Add(time.Minute) }
	if cb.IsOpen() {
		t.Fatal("circuit should close once the reset window elapses")
	}
	if cb.FailureCount() != 0 {
		t.Fatalf("lazy reset should clear the count, got %d", cb.FailureCount())
	}
}

// TestBreakerNotifications verifies open fires once at the threshold and
// reset fires when a success clears failures.
func TestBreakerNotifications(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, testEntry())

	var opened, reset int
	cb.OnOpen(func() { opened++ })
	cb.OnReset(func() { reset++ })

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	if opened != 1 {
		t.Fatalf("opened notifications = %d, want 1", opened)
	}

	cb.RecordSuccess()
	if reset != 1 {
		t.Fatalf("reset notifications = %d, want 1", reset)
	}

	cb.RecordSuccess()
	if reset != 1 {
		t.Fatalf("reset should not fire on a clean success, got %d", reset)
	}
}

// TestBreakerManualReset verifies the operator override.
func TestBreakerManualReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour, testEntry())
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("circuit should be open")
	}
	cb.Reset()
	if cb.IsOpen() {
		t.Fatal("manual reset should close the circuit")
	}
}
