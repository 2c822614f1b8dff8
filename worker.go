package nuagent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// workerIdleSleep is how long a worker parks between polls. Sleeps run
// in short slices so pause and shutdown are observed quickly.
const (
	workerIdleSleep = 3 * time.Second
	workerSliceLen  = 200 * time.Millisecond
)

// WorkerStatus is a snapshot of one worker's state. All counters are
// cumulative since Start.
type WorkerStatus struct {
	Running    bool
	Paused     bool
	Total      int
	Completed  int
	Failed     int
	CurrentJob string
	Spend      float64
}

// Job is one background job function. Run performs a single poll cycle:
// find pending items and process them, reporting through p. It must
// return promptly once ctx is cancelled, abandoning the current item.
type Job interface {
	Name() string
	Run(ctx context.Context, p *Progress) error
}

// Progress is the reporting handle a Job uses to update its worker's
// status counters.
type Progress struct{ w *Worker }

// NewProgress returns a reporting handle bound to w, for driving a job
// outside the worker loop (one-shot runs, tests).
func NewProgress(w *Worker) *Progress { return &Progress{w: w} }

// Item marks the start of one unit of work.
func (p *Progress) Item(desc string) {
	p.w.mu.Lock()
	p.w.status.Total++
	p.w.status.CurrentJob = desc
	p.w.mu.Unlock()
}

// Done marks the current item completed and accumulates its spend.
func (p *Progress) Done(spend float64) {
	p.w.mu.Lock()
	p.w.status.Completed++
	p.w.status.Spend += spend
	p.w.status.CurrentJob = ""
	p.w.mu.Unlock()
}

// Fail marks the current item failed.
func (p *Progress) Fail() {
	p.w.mu.Lock()
	p.w.status.Failed++
	p.w.status.CurrentJob = ""
	p.w.mu.Unlock()
}

// jobLogger applies the per-worker verbosity config: a stored
// <name>_verbosity of 0 silences the job's own logging. Failures still
// count in the worker status and the failed-job sink.
func jobLogger(ctx context.Context, s Store, name string, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = nopLogger
	}
	if v, err := s.ConfigInt(ctx, name+"_verbosity", 1); err == nil && v <= 0 {
		return nopLogger
	}
	return logger
}

// Worker runs one Job in a loop with cooperative pause and shutdown.
type Worker struct {
	job    Job
	logger *slog.Logger

	mu     sync.Mutex // guards status
	status WorkerStatus

	pauseMu sync.Mutex
	paused  bool

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	runMu   sync.Mutex // guards running/cancel/done
}

// NewWorker wraps job in a pausable worker. A nil logger disables logs.
func NewWorker(job Job, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = nopLogger
	}
	return &Worker{job: job, logger: logger}
}

// Name returns the wrapped job's name.
func (w *Worker) Name() string { return w.job.Name() }

// Start spawns the worker loop. Starting an already-running worker is a
// no-op returning false.
func (w *Worker) Start(ctx context.Context) bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.running {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	w.setRunning(true)

	go w.loop(ctx)
	w.logger.Debug("worker started", "worker", w.job.Name())
	return true
}

// Stop requests shutdown and waits for the loop to exit. Stopping a
// not-running worker is a no-op returning false.
func (w *Worker) Stop() bool {
	w.runMu.Lock()
	if !w.running {
		w.runMu.Unlock()
		return false
	}
	cancel, done := w.cancel, w.done
	w.runMu.Unlock()

	cancel()
	<-done
	return true
}

// RequestStop signals shutdown without waiting. Returns false if the
// worker is not running.
func (w *Worker) RequestStop() bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if !w.running {
		return false
	}
	w.cancel()
	return true
}

// Done returns a channel closed when the worker loop has exited. Nil if
// the worker never started.
func (w *Worker) Done() <-chan struct{} {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return w.done
}

// Pause asks the worker to park after the current item.
func (w *Worker) Pause() {
	w.pauseMu.Lock()
	w.paused = true
	w.pauseMu.Unlock()
}

// Resume clears the pause flag.
func (w *Worker) Resume() {
	w.pauseMu.Lock()
	w.paused = false
	w.pauseMu.Unlock()
	w.mu.Lock()
	w.status.Paused = false
	w.mu.Unlock()
}

func (w *Worker) pauseRequested() bool {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	return w.paused
}

// WaitUntilPaused polls until the worker has parked at its pause point,
// or the timeout elapses. Returns false on timeout or if the worker is
// not running.
func (w *Worker) WaitUntilPaused(timeout time.Duration) bool {
	if !w.Status().Running {
		return false
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.Status().Paused {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Status returns a snapshot of the worker state.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setRunning(v bool) {
	w.mu.Lock()
	w.status.Running = v
	w.mu.Unlock()
}

func (w *Worker) setPaused(v bool) {
	w.mu.Lock()
	w.status.Paused = v
	w.mu.Unlock()
}

func (w *Worker) loop(ctx context.Context) {
	defer func() {
		w.setRunning(false)
		w.runMu.Lock()
		w.running = false
		close(w.done)
		w.runMu.Unlock()
		w.logger.Debug("worker stopped", "worker", w.job.Name())
	}()

	progress := &Progress{w: w}
	for {
		if ctx.Err() != nil {
			return
		}
		if w.pauseRequested() {
			w.setPaused(true)
			if !w.sleepChunked(ctx, workerSliceLen) {
				return
			}
			continue
		}
		w.setPaused(false)

		if err := w.job.Run(ctx, progress); err != nil {
			if ctx.Err() != nil {
				return
			}
			// A job-level error is fatal for this worker; the
			// supervisor does not restart it.
			w.logger.Error("worker job failed", "worker", w.job.Name(), "error", err)
			return
		}

		if !w.sleepChunked(ctx, workerIdleSleep) {
			return
		}
	}
}

// sleepChunked sleeps for d in short slices, returning false as soon as
// ctx is cancelled.
func (w *Worker) sleepChunked(ctx context.Context, d time.Duration) bool {
	remaining := d
	for remaining > 0 {
		slice := workerSliceLen
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(slice):
		}
		remaining -= slice
		if w.pauseRequested() {
			return true
		}
	}
	return true
}
