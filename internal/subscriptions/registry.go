// Package subscriptions implements the Subscription Registry
// (spec.md §4.2): a durable mapping from bus topic to an ordered,
// duplicate-free sequence of delivery URLs, flushed to disk on every
// mutation before the mutation is acknowledged to its caller.
package subscriptions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Registry guards SubscriptionTable with a single reader-writer lock.
// Writers hold the lock across the file flush so the in-memory state
// and the on-disk state are never observably out of sync (spec.md §3
// SubscriptionFile invariant, §5 ordering guarantees).
type Registry struct {
	mu   sync.RWMutex
	path string
	// byTopic preserves first-insertion order per topic; duplicates of
	// the same (topic, url) pair collapse to one entry (spec.md §3).
	byTopic map[string][]string
}

// Load reads path into a new Registry. A missing file is not an
// error: the registry starts empty, matching a fresh install.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, byTopic: make(map[string][]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read subscription file %s: %w", path, err)
	}

	if len(raw) == 0 {
		return r, nil
	}

	if err := json.Unmarshal(raw, &r.byTopic); err != nil {
		return nil, fmt.Errorf("parse subscription file %s: %w", path, err)
	}
	return r, nil
}

// Topics returns a snapshot of every topic currently holding at least
// one URL. Used at startup to re-establish bus subscriptions
// (spec.md §4.2, Invariant 1).
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.byTopic))
	for topic := range r.byTopic {
		topics = append(topics, topic)
	}
	return topics
}

// URLsFor returns a copy of the delivery URLs registered for topic,
// safe to iterate without holding the registry lock (spec.md §5).
func (r *Registry) URLsFor(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urls := r.byTopic[topic]
	out := make([]string, len(urls))
	copy(out, urls)
	return out
}

// Add registers url for topic. isNew reports whether (topic, url) was
// not already present (spec.md P2: idempotent). subscriptionCreated
// reports whether topic had no URLs before this call, meaning the
// caller must now call BusAdapter.Subscribe for topic before
// acknowledging the client's request (spec.md §4.2).
func (r *Registry) Add(topic, url string) (isNew, subscriptionCreated bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byTopic[topic]
	wasEmpty := len(existing) == 0

	for _, u := range existing {
		if u == url {
			return false, false, nil
		}
	}

	r.byTopic[topic] = append(existing, url)

	if err := r.flushLocked(); err != nil {
		// Roll back the in-memory mutation so state and disk agree
		// even on a failed flush.
		if wasEmpty {
			delete(r.byTopic, topic)
		} else {
			r.byTopic[topic] = existing
		}
		return false, false, err
	}

	return true, wasEmpty, nil
}

// Remove unregisters url from topic. removed reports whether (topic,
// url) was present (spec.md P3: safe no-op otherwise).
// subscriptionReleased reports whether topic's URL list became empty,
// meaning the caller must release the bus subscription for topic.
func (r *Registry) Remove(topic, url string) (removed, subscriptionReleased bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byTopic[topic]

	idx := -1
	for i, u := range existing {
		if u == url {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, false, nil
	}

	updated := make([]string, 0, len(existing)-1)
	updated = append(updated, existing[:idx]...)
	updated = append(updated, existing[idx+1:]...)

	if len(updated) == 0 {
		delete(r.byTopic, topic)
	} else {
		r.byTopic[topic] = updated
	}

	if err := r.flushLocked(); err != nil {
		r.byTopic[topic] = existing
		return false, false, err
	}

	return true, len(updated) == 0, nil
}

// flushLocked serializes the table to disk with a temp-file-plus-rename
// so a crash mid-write never leaves a truncated subscription file
// (spec.md §6). Caller must hold mu for writing.
func (r *Registry) flushLocked() error {
	if r.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(r.byTopic, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscription table: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create subscription directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".lti_bus_subscriptions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp subscription file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp subscription file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp subscription file: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp subscription file: %w", err)
	}

	return nil
}
