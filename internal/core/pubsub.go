package core

import (
	"sync"

	"github.com/olyamironova/solbot-sim/internal/domain"
)

// PubSub fans command results out to per-user subscribers. Slow
// subscribers miss events rather than block the engine.
type PubSub struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.Result]struct{}
}

func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[string]map[chan domain.Result]struct{})}
}

// Subscribe returns the event channel and a function that unsubscribes and
// closes it.
func (p *PubSub) Subscribe(userID string, buffer int) (<-chan domain.Result, func()) {
	ch := make(chan domain.Result, buffer)
	p.mu.Lock()
	if p.subs[userID] == nil {
		p.subs[userID] = make(map[chan domain.Result]struct{})
	}
	p.subs[userID][ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs[userID], ch)
			if len(p.subs[userID]) == 0 {
				delete(p.subs, userID)
			}
			close(ch)
			p.mu.Unlock()
		})
	}
}

func (p *PubSub) Publish(userID string, r domain.Result) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch := range p.subs[userID] {
		select {
		case ch <- r:
		default:
		}
	}
}

func (p *PubSub) Subscribers(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[userID])
}
