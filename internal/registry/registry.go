package registry

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is a record plus the bookkeeping needed to undo a reservation.
type entry struct {
	Record
	prevAttemptAt *time.Time
}

// Registry holds one Record per identifier. Records are created on first
// sighting and only removed by Evict.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*entry
	logger  Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*entry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// UpsertSighting records an advertisement seen at now.
//
// A new identifier gets a discovered record. For a known one, LastSeenAt and
// LastRSSI only move forward in time: an out-of-order event still counts as
// an advertisement but leaves them untouched. A connected or failed record
// goes back to discovered; a pending one stays pending.
func (r *Registry) UpsertSighting(identifier string, rssi int, now time.Time) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[identifier]
	if !ok {
		e = &entry{Record: Record{
			Identifier:     identifier,
			FirstSeenAt:    now,
			LastSeenAt:     now,
			LastRSSI:       rssi,
			State:          StateDiscovered,
			Advertisements: 1,
		}}
		r.records[identifier] = e
		r.logger.Debug("device discovered", "identifier", identifier, "rssi", rssi)
		return e.clone()
	}

	e.Advertisements++
	if !now.Before(e.LastSeenAt) {
		e.LastSeenAt = now
		e.LastRSSI = rssi
	}
	if now.Before(e.FirstSeenAt) {
		e.FirstSeenAt = now
	}
	if e.State.IsTerminal() {
		e.State = StateDiscovered
	}

	return e.clone()
}

// TryReserveAttempt atomically marks the device pending_connect and stamps
// LastAttemptAt = now, if and only if:
//   - the identifier is known,
//   - no attempt is pending, and
//   - it has never been attempted or now - LastAttemptAt >= minInterval.
//
// A now earlier than LastAttemptAt (clock skew) is treated as too soon.
// Exactly one of any number of concurrent callers for the same identifier
// gets true.
func (r *Registry) TryReserveAttempt(identifier string, now time.Time, minInterval time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[identifier]
	if !ok || e.State == StatePendingConnect {
		return false
	}
	if e.LastAttemptAt != nil {
		elapsed := now.Sub(*e.LastAttemptAt)
		if elapsed < 0 || elapsed < minInterval {
			return false
		}
	}

	e.prevAttemptAt = e.LastAttemptAt
	stamp := now
	e.LastAttemptAt = &stamp
	e.State = StatePendingConnect
	return true
}

// RecordOutcome finishes a pending attempt as connected or failed. It returns
// false and changes nothing when the device has no pending attempt.
func (r *Registry) RecordOutcome(identifier string, success bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[identifier]
	if !ok || e.State != StatePendingConnect {
		r.logger.Warn("outcome for device without pending attempt", "identifier", identifier)
		return false
	}

	e.Attempts++
	e.prevAttemptAt = nil
	if success {
		e.Successes++
		e.State = StateConnected
	} else {
		e.State = StateFailed
	}
	return true
}

// ReleaseAttempt undoes a reservation whose attempt never started, restoring
// the previous LastAttemptAt and the discovered state. It returns false when
// no attempt is pending.
func (r *Registry) ReleaseAttempt(identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[identifier]
	if !ok || e.State != StatePendingConnect {
		return false
	}

	e.LastAttemptAt = e.prevAttemptAt
	e.prevAttemptAt = nil
	e.State = StateDiscovered
	return true
}

// Get returns a copy of the record for identifier.
func (r *Registry) Get(identifier string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.records[identifier]
	if !ok {
		return Record{}, false
	}
	return e.clone(), true
}

// List returns copies of all records ordered by identifier.
func (r *Registry) List() []Record {
	return r.filter(func(*entry) bool { return true })
}

// ListByState returns copies of the records in state, ordered by identifier.
func (r *Registry) ListByState(state State) []Record {
	return r.filter(func(e *entry) bool { return e.State == state })
}

func (r *Registry) filter(keep func(*entry) bool) []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, e := range r.records {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// PendingCount returns the number of devices with an attempt in flight.
func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.records {
		if e.State == StatePendingConnect {
			n++
		}
	}
	return n
}

// Stats returns aggregate counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.records),
		ByState:      make(map[State]int, len(AllStates)),
	}
	for _, e := range r.records {
		stats.ByState[e.State]++
		stats.Advertisements += e.Advertisements
		stats.Attempts += e.Attempts
		stats.Successes += e.Successes
	}
	return stats
}

// Evict removes devices last seen before idleSince. Devices with a pending
// attempt are kept so their outcome can still be recorded. It returns the
// number of records removed.
func (r *Registry) Evict(idleSince time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.records {
		if e.State == StatePendingConnect || !e.LastSeenAt.Before(idleSince) {
			continue
		}
		delete(r.records, id)
		removed++
	}
	if removed > 0 {
		r.logger.Debug("evicted idle devices", "count", removed, "idle_since", idleSince)
	}
	return removed
}
