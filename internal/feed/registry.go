package feed

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry tracks the active subscribers and fans ticks out to them.
type Registry struct {
	mu          sync.Mutex
	subscribers map[Subscriber]struct{}
	last        *Tick
}

func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Subscribe adds sub to the active set. If a tick has already been
// broadcast, sub receives it first so it does not wait a full interval.
// The initial send happens under the same lock as Broadcast, so sub sees
// the latest price and then every later tick, in order and without repeats.
func (r *Registry) Subscribe(sub Subscriber) {
	logger := log.With().Str("component", "subscriber_registry").Logger()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last != nil {
		if err := deliver(sub, *r.last); err != nil {
			logger.Debug().Err(err).Msg("initial tick delivery failed, subscriber dropped")
			sub.Close()
			return
		}
	}

	r.subscribers[sub] = struct{}{}
	logger.Debug().Int("subscribers", len(r.subscribers)).Msg("subscriber added")
}

// Unsubscribe removes and closes sub. Removing an absent subscriber is a no-op.
func (r *Registry) Unsubscribe(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscribers[sub]; !ok {
		return
	}
	delete(r.subscribers, sub)
	sub.Close()

	log.Debug().
		Str("component", "subscriber_registry").
		Int("subscribers", len(r.subscribers)).
		Msg("subscriber removed")
}

// Broadcast delivers tick to every active subscriber and prunes those whose
// delivery fails. It returns the number of successful deliveries.
func (r *Registry) Broadcast(tick Tick) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = &tick

	delivered := 0
	for sub := range r.subscribers {
		if err := deliver(sub, tick); err != nil {
			delete(r.subscribers, sub)
			sub.Close()
			log.Debug().
				Str("component", "subscriber_registry").
				Err(err).
				Float64("price", tick.Price).
				Msg("delivery failed, subscriber pruned")
			continue
		}
		delivered++
	}

	return delivered
}

// Latest returns the most recently broadcast tick.
func (r *Registry) Latest() (Tick, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		return Tick{}, false
	}
	return *r.last, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// CloseAll drops every subscriber, ending their streams. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sub := range r.subscribers {
		delete(r.subscribers, sub)
		sub.Close()
	}
}

// deliver isolates one subscriber's failure, including a panic, from the rest.
func deliver(sub Subscriber, tick Tick) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("subscriber panicked: %v", p)
		}
	}()
	return sub.Send(tick)
}
