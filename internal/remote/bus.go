package remote

import "sync"

// Bus is a fan-out pub/sub for map commands.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Command]struct{}
}

// NewBus creates a new command bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Command]struct{})}
}

// Publish sends a command to all subscribers (non-blocking).
func (b *Bus) Publish(c Command) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
			// subscriber too slow, it resyncs from the next style snapshot
		}
	}
}

// Subscribe returns a buffered channel that receives commands.
func (b *Bus) Subscribe() chan Command {
	ch := make(chan Command, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Command) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
