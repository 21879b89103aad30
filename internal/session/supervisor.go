package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Runner is anything the supervisor can drive; *Session satisfies it.
type Runner interface {
	Run(ctx context.Context) error
}

// Result is one session's outcome.
type Result struct {
	Instrument string
	Err        error
}

// Supervisor runs independent sessions concurrently. A failure or panic in
// one session does not stop the others.
type Supervisor struct {
	log     *slog.Logger
	names   []string
	runners []Runner
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{log: log}
}

// Add registers a runner under name. Call before Run.
func (s *Supervisor) Add(name string, r Runner) {
	s.names = append(s.names, name)
	s.runners = append(s.runners, r)
}

// Run starts every session and blocks until all have returned. Results are
// in registration order.
func (s *Supervisor) Run(ctx context.Context) []Result {
	results := make([]Result, len(s.runners))
	var wg sync.WaitGroup
	for i, r := range s.runners {
		wg.Add(1)
		go func(i int, r Runner) {
			defer wg.Done()
			results[i] = Result{Instrument: s.names[i], Err: s.runOne(ctx, s.names[i], r)}
		}(i, r)
	}
	wg.Wait()
	return results
}

func (s *Supervisor) runOne(ctx context.Context, name string, r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("session %s panicked: %v", name, p)
			s.log.Error("session panic", "instrument", name, "panic", p, "stack", string(debug.Stack()))
		}
	}()
	err = r.Run(ctx)
	if err != nil {
		s.log.Error("session ended with error", "instrument", name, "error", err)
	} else {
		s.log.Info("session ended", "instrument", name)
	}
	return err
}
