package params

import (
	"fmt"
	"log"
	"sync"

	"github.com/relabs-tech/hip_exo/internal/config"
)

// Shared is the one piece of state the parameter sources and the control
// loop both touch: the staged config plus the new-params and quit flags,
// behind one mutex.
type Shared struct {
	mu        sync.Mutex
	staged    *config.Config
	newParams bool
	quit      bool
}

func NewShared(cfg *config.Config) *Shared {
	return &Shared{staged: cfg.Clone()}
}

// Stage applies fn to a copy of the staged config. The copy replaces the
// staged config only if fn succeeds and the result validates; otherwise
// nothing changes and no update is signalled. TASK is fixed for the life of
// the controller, so the copy is validated against the running task.
func (s *Shared) Stage(fn func(*config.Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.staged.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if next.Task != s.staged.Task {
		log.Printf("params: TASK %s takes effect on restart, keeping %s", next.Task, s.staged.Task)
		next.Task = s.staged.Task
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("update rejected: %w", err)
	}
	s.staged = next
	s.newParams = true
	return nil
}

// Handle acts on a parsed message.
func (s *Shared) Handle(m Message) error {
	switch m.Kind {
	case Reapply:
		s.mu.Lock()
		s.newParams = true
		s.mu.Unlock()
		return nil
	case Quit:
		s.RequestQuit()
		return nil
	default:
		return s.Stage(m.Apply)
	}
}

func (s *Shared) RequestQuit() {
	s.mu.Lock()
	s.quit = true
	s.mu.Unlock()
}

// Sync runs at the control loop's tick boundary. If an update is pending,
// apply is called with a copy of the staged config while the lock is held
// and the flag is cleared. It reports whether quit was requested.
func (s *Shared) Sync(apply func(cfg *config.Config) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.newParams {
		s.newParams = false
		err = apply(s.staged.Clone())
	}
	return s.quit, err
}

// Snapshot returns a copy of the staged config.
func (s *Shared) Snapshot() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged.Clone()
}
