package nuagent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// tickJob counts Run invocations.
type tickJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *tickJob) Name() string { return j.name }

func (j *tickJob) Run(ctx context.Context, p *Progress) error {
	j.runs.Add(1)
	if j.err != nil {
		return j.err
	}
	p.Item("tick")
	p.Done(0.001)
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	job := &tickJob{name: "tick"}
	w := NewWorker(job, nil)
	defer w.Stop()

	if !w.Start(context.Background()) {
		t.Fatal("first start should succeed")
	}
	if w.Start(context.Background()) {
		t.Fatal("second start must be a no-op returning false")
	}
}

func TestWorkerStopNotRunning(t *testing.T) {
	w := NewWorker(&tickJob{name: "tick"}, nil)
	if w.Stop() {
		t.Fatal("stopping a never-started worker must return false")
	}

	w.Start(context.Background())
	if !w.Stop() {
		t.Fatal("stop of running worker should return true")
	}
	if w.Stop() {
		t.Fatal("second stop must return false")
	}
}

func TestWorkerPauseResume(t *testing.T) {
	job := &tickJob{name: "tick"}
	w := NewWorker(job, nil)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return job.runs.Load() >= 1 })

	w.Pause()
	if !w.WaitUntilPaused(2 * time.Second) {
		t.Fatal("worker did not park")
	}
	parkedRuns := job.runs.Load()
	time.Sleep(300 * time.Millisecond)
	if job.runs.Load() != parkedRuns {
		t.Fatal("paused worker kept working")
	}

	w.Resume()
	waitFor(t, 5*time.Second, func() bool { return job.runs.Load() > parkedRuns })
}

func TestWorkerWaitUntilPausedRequiresRunning(t *testing.T) {
	w := NewWorker(&tickJob{name: "tick"}, nil)
	if w.WaitUntilPaused(50 * time.Millisecond) {
		t.Fatal("not-running worker can never be paused")
	}
}

func TestWorkerJobErrorStopsLoop(t *testing.T) {
	job := &tickJob{name: "tick", err: errors.New("boom")}
	w := NewWorker(job, nil)
	w.Start(context.Background())

	waitFor(t, 2*time.Second, func() bool { return !w.Status().Running })
	if job.runs.Load() != 1 {
		t.Fatalf("worker should not restart after a job error, ran %d times", job.runs.Load())
	}
}

func TestWorkerStatusCounters(t *testing.T) {
	job := &tickJob{name: "tick"}
	w := NewWorker(job, nil)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return w.Status().Completed >= 1 })
	st := w.Status()
	if st.Total < 1 || st.Spend <= 0 {
		t.Fatalf("counters not updated: %+v", st)
	}
}

func TestCriticalSectionsWaitIdle(t *testing.T) {
	var cs CriticalSections
	cs.Enter()
	cs.Enter()
	if cs.WaitIdle(50 * time.Millisecond) {
		t.Fatal("WaitIdle should time out with sections held")
	}
	cs.Exit()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cs.Exit()
	}()
	if !cs.WaitIdle(time.Second) {
		t.Fatal("WaitIdle should succeed once drained")
	}
	// Extra exits clamp at zero.
	cs.Exit()
	if cs.Count() != 0 {
		t.Fatalf("count went negative: %d", cs.Count())
	}
}
