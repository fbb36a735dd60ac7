package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pardeike/gabp-server/pkg/gabp"
)

type channelState struct {
	description string
	seq         atomic.Uint64
	subscribers map[string]Subscriber
}

// Manager is the server-wide event registry. The zero value is not
// usable; construct with NewManager.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]*channelState)}
}

// Register adds a channel or, if it already exists, overwrites its
// description only — the sequence counter and subscriber set survive
// re-registration.
func (m *Manager) Register(name, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.channels[name]
	if !ok {
		cs = &channelState{subscribers: make(map[string]Subscriber)}
		m.channels[name] = cs
	}
	cs.description = description
}

// Unregister removes a channel entirely, dropping its subscriber set.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// List returns the registered channels in no particular order.
func (m *Manager) List() []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Channel, 0, len(m.channels))
	for name, cs := range m.channels {
		out = append(out, Channel{Name: name, Description: cs.description})
	}
	return out
}

// Exists reports whether name is registered.
func (m *Manager) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[name]
	return ok
}

// SubscriberCount returns the number of active subscribers on name, or 0
// if the channel is unregistered.
func (m *Manager) SubscriberCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.channels[name]
	if !ok {
		return 0
	}
	return len(cs.subscribers)
}

// Subscribe adds sub to every channel in names that exists and returns
// the subset that was found; unknown names are silently dropped.
func (m *Manager) Subscribe(sub Subscriber, names []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	subscribed := make([]string, 0, len(names))
	for _, name := range names {
		cs, ok := m.channels[name]
		if !ok {
			continue
		}
		cs.subscribers[sub.ID()] = sub
		subscribed = append(subscribed, name)
	}
	return subscribed
}

// Unsubscribe removes sub from every channel in names and returns the
// subset from which it was actually removed.
func (m *Manager) Unsubscribe(sub Subscriber, names []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make([]string, 0, len(names))
	for _, name := range names {
		cs, ok := m.channels[name]
		if !ok {
			continue
		}
		if _, had := cs.subscribers[sub.ID()]; had {
			delete(cs.subscribers, sub.ID())
			removed = append(removed, name)
		}
	}
	return removed
}

// Disconnected removes sub from every channel atomically. It is meant to
// be called once, when the underlying connection closes.
func (m *Manager) Disconnected(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := sub.ID()
	for _, cs := range m.channels {
		delete(cs.subscribers, id)
	}
}

// Emit delivers payload to every current subscriber of channel.
// A missing channel is a no-op. The sequence counter is
// incremented before the snapshot is taken so seq assignment order
// matches the order Emit calls observe the counter, and the subscriber
// snapshot is taken under the registry lock so fan-out is decoupled from
// concurrent subscribe/unsubscribe. Emit blocks until every per-
// subscriber send has completed, successfully or not.
func (m *Manager) Emit(channel string, payload any, timestamp time.Time) error {
	m.mu.Lock()
	cs, ok := m.channels[channel]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	seq := cs.seq.Add(1)
	subs := make([]Subscriber, 0, len(cs.subscribers))
	for _, s := range cs.subscribers {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	msg, err := gabp.NewEvent(channel, seq, payload, timestamp)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, s := range subs {
		go func(s Subscriber) {
			defer wg.Done()
			if !s.Connected() || s.Send(msg) != nil {
				m.Disconnected(s)
			}
		}(s)
	}
	wg.Wait()
	return nil
}
