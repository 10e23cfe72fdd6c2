package app

import (
	"sync"

	"lrnr-quiz-service/internal/domain"
)

// LeaderboardHub fans leaderboard snapshots out to live subscribers, one feed per kind.
type LeaderboardHub struct {
	mu          sync.Mutex
	subscribers map[domain.LeaderboardKind]map[chan domain.Leaderboard]struct{}
}

func NewLeaderboardHub() *LeaderboardHub {
	return &LeaderboardHub{
		subscribers: make(map[domain.LeaderboardKind]map[chan domain.Leaderboard]struct{}),
	}
}

// Subscribe returns a channel primed with initial that then receives every snapshot published
// for initial.Kind. The caller must invoke cancel to release the subscription.
func (h *LeaderboardHub) Subscribe(initial domain.Leaderboard) (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)
	kind := initial.Kind

	h.mu.Lock()
	subs, ok := h.subscribers[kind]
	if !ok {
		subs = make(map[chan domain.Leaderboard]struct{})
		h.subscribers[kind] = subs
	}
	subs[ch] = struct{}{}
	ch <- initial
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers lb to every subscriber of its kind.
func (h *LeaderboardHub) Publish(lb domain.Leaderboard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[lb.Kind] {
		select {
		case ch <- lb:
		default:
			// slow reader: replace its oldest snapshot
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

// Subscribers reports how many feeds are open for kind.
func (h *LeaderboardHub) Subscribers(kind domain.LeaderboardKind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[kind])
}
