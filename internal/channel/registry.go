package channel

import (
	"sort"
	"sync"

	"l4book/logger"
)

// Registry tracks the live queue of every market so occupancy can be
// reported. Queues are replaced on every resubscription.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*FrameQueue
	log    *logger.Log
}

func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string]*FrameQueue),
		log:    logger.GetLogger(),
	}
}

func (r *Registry) Put(market string, q *FrameQueue) {
	r.mu.Lock()
	r.queues[market] = q
	r.mu.Unlock()

	r.log.WithComponent("frame_queues").WithFields(logger.Fields{
		"market":   market,
		"capacity": cap(q.ch),
		"policy":   string(q.policy),
	}).Debug("frame queue registered")
}

func (r *Registry) Remove(market string, q *FrameQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[market] == q {
		delete(r.queues, market)
	}
}

// Stats returns a copy of every queue's counters keyed by market.
func (r *Registry) Stats() map[string]QueueStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]QueueStats, len(r.queues))
	for m, q := range r.queues {
		out[m] = q.Stats()
	}
	return out
}

func (r *Registry) Markets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.queues))
	for m := range r.queues {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
