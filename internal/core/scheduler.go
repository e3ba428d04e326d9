package core

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs one periodic job per key. A job never overlaps itself:
// the next run starts only after the previous one returned.
type Scheduler struct {
	root   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler() *Scheduler {
	root, stop := context.WithCancel(context.Background())
	return &Scheduler{
		root:   root,
		stop:   stop,
		cancel: make(map[string]context.CancelFunc),
	}
}

// Schedule replaces any job already registered under key.
func (s *Scheduler) Schedule(key string, every time.Duration, fn func(ctx context.Context)) {
	if every <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root.Err() != nil {
		return
	}
	if c, ok := s.cancel[key]; ok {
		c()
	}
	ctx, cancel := context.WithCancel(s.root)
	s.cancel[key] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()
}

// Cancel stops the job under key and reports whether one was registered.
// It does not wait for an in-flight run; that run sees a cancelled context.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cancel[key]
	if ok {
		c()
		delete(s.cancel, key)
	}
	return ok
}

func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancel[key]
	return ok
}

// Shutdown cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.stop()
	s.cancel = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	s.wg.Wait()
}
