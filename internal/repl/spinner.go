package repl

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// spinner renders a progress indicator on its own goroutine. Disabled
// spinners (non-TTY output) accept all calls as no-ops so callers never
// branch.
type spinner struct {
	out     io.Writer
	enabled bool

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func newSpinner(out io.Writer, enabled bool) *spinner {
	return &spinner{out: out, enabled: enabled}
}

func (s *spinner) start() {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
}

func (s *spinner) run(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(spinnerInterval)
	defer t.Stop()
	i := 0
	for {
		select {
		case <-stop:
			// Erase the frame before handing the line back.
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-t.C:
			fmt.Fprintf(s.out, "\r%s ", spinnerFrames[i%len(spinnerFrames)])
			i++
		}
	}
}

func (s *spinner) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh, s.doneCh = nil, nil
}

// pause runs fn with the spinner off the line, then restarts it if it
// was running.
func (s *spinner) pause(fn func()) {
	s.mu.Lock()
	running := s.stopCh != nil
	s.mu.Unlock()
	if running {
		s.stop()
	}
	fn()
	if running {
		s.start()
	}
}
