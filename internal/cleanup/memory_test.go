package cleanup

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeJobs implements JobEvicter with scripted counts.
type fakeJobs struct {
	mu         sync.Mutex
	evictEach  int
	evictCalls int
	total      int
	deadLetter int
}

func (f *fakeJobs) CleanupOldJobs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictCalls++
	return f.evictEach
}

func (f *fakeJobs) Counts() (int, int, int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return 0, 0, 0, f.deadLetter, f.total
}

func (f *fakeJobs) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evictCalls
}

// fakeAccs implements AccumulatorEvicter.
type fakeAccs struct {
	mu         sync.Mutex
	sweepEach  int
	segments   int
	count      int
	aggressive bool
}

func (f *fakeAccs) CleanupOldAccumulators() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweepEach
}

func (f *fakeAccs) ShouldPerformAggressiveCleanup() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aggressive
}

func (f *fakeAccs) SegmentCount(recordingID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.segments
}

func (f *fakeAccs) AccumulatorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// fakeSweeper implements ResourceSweeper.
type fakeSweeper struct {
	mu     sync.Mutex
	files  int
	bytes  int64
	maxAge time.Duration
}

func (f *fakeSweeper) SweepStaleResources(maxAge time.Duration) (int, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxAge = maxAge
	return f.files, f.bytes
}

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// TestRunCleanupAccumulatesStats verifies counters fold across passes and
// peaks track high-water marks.
func TestRunCleanupAccumulatesStats(t *testing.T) {
	jobs := &fakeJobs{evictEach: 3, total: 40}
	accs := &fakeAccs{sweepEach: 1, segments: 12}
	sweeper := &fakeSweeper{files: 2, bytes: 2048}
	m := NewManager(jobs, accs, sweeper, time.Hour, 30*time.Minute, testEntry())

	m.RunCleanup()
	jobs.total = 25 // below the previous peak
	accs.segments = 7
	m.RunCleanup()

	stats := m.Snapshot()
	if stats.TotalCleanups != 2 {
		t.Fatalf("total cleanups = %d, want 2", stats.TotalCleanups)
	}
	if stats.JobsEvicted != 6 {
		t.Fatalf("jobs evicted = %d, want 6", stats.JobsEvicted)
	}
	if stats.AccumulatorsSwept != 2 {
		t.Fatalf("accumulators swept = %d, want 2", stats.AccumulatorsSwept)
	}
	if stats.TempFilesDeleted != 4 || stats.BytesFreed != 4096 {
		t.Fatalf("temp sweep stats = %d files %d bytes", stats.TempFilesDeleted, stats.BytesFreed)
	}
	if stats.PeakJobs != 40 {
		t.Fatalf("peak jobs = %d, want 40", stats.PeakJobs)
	}
	if stats.PeakSegments != 12 {
		t.Fatalf("peak segments = %d, want 12", stats.PeakSegments)
	}
	if stats.LastCleanup.IsZero() {
		t.Fatal("last cleanup time not recorded")
	}
	if sweeper.maxAge != 30*time.Minute {
		t.Fatalf("sweep max age = %s, want 30m", sweeper.maxAge)
	}
}

// TestCheckPressure verifies the synchronous cleanup fires only past the
// limits.
func TestCheckPressure(t *testing.T) {
	jobs := &fakeJobs{total: 10}
	accs := &fakeAccs{}
	m := NewManager(jobs, accs, &fakeSweeper{}, time.Hour, 0, testEntry())

	m.CheckPressure()
	if jobs.calls() != 0 {
		t.Fatal("no pressure, cleanup should not run")
	}

	jobs.total = DefaultJobPressureLimit + 1
	m.CheckPressure()
	if jobs.calls() != 1 {
		t.Fatal("job pressure should trigger a synchronous cleanup")
	}

	jobs.total = 10
	accs.aggressive = true
	m.CheckPressure()
	if jobs.calls() != 2 {
		t.Fatal("accumulator pressure should trigger a synchronous cleanup")
	}
}

// TestHealthReportsIssues verifies each limit produces an actionable issue.
func TestHealthReportsIssues(t *testing.T) {
	jobs := &fakeJobs{total: 10}
	accs := &fakeAccs{count: 2, segments: 5}
	m := NewManager(jobs, accs, &fakeSweeper{}, time.Hour, 0, testEntry())

	if !m.IsHealthy() {
		t.Fatal("should be healthy within limits")
	}

	jobs.total = DefaultJobPressureLimit + 1
	jobs.deadLetter = DefaultDeadLetterPressureLimit + 1
	accs.aggressive = true

	report := m.Health()
	if report.Healthy {
		t.Fatal("report should be unhealthy")
	}
	if len(report.Issues) != 3 {
		t.Fatalf("issues = %d, want 3: %v", len(report.Issues), report.Issues)
	}
	if report.JobCount != jobs.total {
		t.Fatalf("job count = %d, want %d", report.JobCount, jobs.total)
	}
	if report.DeadLetterCount != jobs.deadLetter {
		t.Fatalf("dead letter count = %d, want %d", report.DeadLetterCount, jobs.deadLetter)
	}
	if report.AccumulatorCount != 2 || report.SegmentCount != 5 {
		t.Fatalf("accumulator/segment counts = %d/%d", report.AccumulatorCount, report.SegmentCount)
	}
}

// TestPeriodicSweep verifies Start runs passes on the interval and Stop
// halts them.
func TestPeriodicSweep(t *testing.T) {
	jobs := &fakeJobs{}
	m := NewManager(jobs, &fakeAccs{}, &fakeSweeper{}, 10*time.Millisecond, 0, testEntry())

	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	calls := jobs.calls()
	if calls < 2 {
		t.Fatalf("expected multiple cleanup passes, got %d", calls)
	}

	time.Sleep(30 * time.Millisecond)
	if jobs.calls() != calls {
		t.Fatal("cleanup passes should stop after Stop")
	}
}
