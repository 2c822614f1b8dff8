package nuagent

import (
	"context"
	"log/slog"
	"time"
)

// shutdownGrace is how long Shutdown waits for in-flight critical
// sections to drain before joining workers.
const shutdownGrace = 5 * time.Second

// Supervisor owns the fixed set of background workers. The set is
// closed at construction; workers are addressed by job name.
type Supervisor struct {
	store    Store
	logger   *slog.Logger
	critical *CriticalSections
	workers  []*Worker
}

// NewSupervisor wraps each job in a Worker. A nil logger disables logs.
func NewSupervisor(store Store, critical *CriticalSections, logger *slog.Logger, jobs ...Job) *Supervisor {
	if logger == nil {
		logger = nopLogger
	}
	s := &Supervisor{store: store, logger: logger, critical: critical}
	for _, job := range jobs {
		s.workers = append(s.workers, NewWorker(job, logger))
	}
	return s
}

func (s *Supervisor) worker(name string) *Worker {
	for _, w := range s.workers {
		if w.Name() == name {
			return w
		}
	}
	return nil
}

// Names lists the managed worker names.
func (s *Supervisor) Names() []string {
	names := make([]string, len(s.workers))
	for i, w := range s.workers {
		names[i] = w.Name()
	}
	return names
}

// StartEnabled starts every worker whose "<name>_enabled" config key
// parses as true. Missing keys default to enabled; a malformed value
// disables the worker and logs the parse error.
func (s *Supervisor) StartEnabled(ctx context.Context) {
	for _, w := range s.workers {
		enabled, err := s.store.ConfigBool(ctx, w.Name()+"_enabled", true)
		if err != nil {
			s.logger.Warn("worker enable flag unreadable, leaving stopped", "worker", w.Name(), "error", err)
			continue
		}
		if enabled {
			w.Start(ctx)
		}
	}
}

// Start starts one worker by name. Returns false for unknown names and
// for workers already running.
func (s *Supervisor) Start(ctx context.Context, name string) bool {
	w := s.worker(name)
	if w == nil {
		return false
	}
	return w.Start(ctx)
}

// Stop stops one worker by name. Returns false for unknown names and
// for workers not running.
func (s *Supervisor) Stop(name string) bool {
	w := s.worker(name)
	if w == nil {
		return false
	}
	return w.Stop()
}

// PauseAll parks every running worker and waits for each to reach its
// pause point. Returns false if any worker missed the deadline.
func (s *Supervisor) PauseAll(timeout time.Duration) bool {
	for _, w := range s.workers {
		w.Pause()
	}
	allParked := true
	for _, w := range s.workers {
		if w.Status().Running && !w.WaitUntilPaused(timeout) {
			s.logger.Warn("worker did not pause in time", "worker", w.Name())
			allParked = false
		}
	}
	return allParked
}

// ResumeAll clears every pause flag.
func (s *Supervisor) ResumeAll() {
	for _, w := range s.workers {
		w.Resume()
	}
}

// Statuses returns a snapshot per worker name.
func (s *Supervisor) Statuses() map[string]WorkerStatus {
	out := make(map[string]WorkerStatus, len(s.workers))
	for _, w := range s.workers {
		out[w.Name()] = w.Status()
	}
	return out
}

// Shutdown signals every worker, waits up to the grace period for
// critical sections to drain, then joins the workers.
func (s *Supervisor) Shutdown() {
	start := time.Now()
	for _, w := range s.workers {
		w.RequestStop()
	}
	if !s.critical.WaitIdle(shutdownGrace) {
		s.logger.Warn("shutdown proceeding with critical sections outstanding",
			"outstanding", s.critical.Count())
	}
	for _, w := range s.workers {
		if done := w.Done(); done != nil {
			<-done
		}
	}
	s.logger.Debug("workers shut down", "duration", time.Since(start))
}
