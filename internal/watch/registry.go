package watch

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/state"
)

// TimelineHandler receives one newly observed timeline item. Any fixed
// arguments a handler needs are captured in its closure at registration
// time.
type TimelineHandler func(item client.Item) error

// LinkHandler receives one added or removed link-set member.
type LinkHandler func(member client.Item) error

// WatcherResult is one watcher's outcome within a cycle.
type WatcherResult struct {
	Key     string
	Due     bool
	Added   []client.Item
	Removed []client.Item // link-set removals; always nil for timelines
	Err     error
}

// Deltas counts the items this watcher delivered.
func (r WatcherResult) Deltas() int {
	return len(r.Added) + len(r.Removed)
}

// CycleReport describes one dispatch cycle across all registered watchers.
type CycleReport struct {
	ID        string
	StartedAt time.Time
	Results   []WatcherResult
}

// Due counts watchers that were due this cycle.
func (c *CycleReport) Due() int {
	n := 0
	for _, r := range c.Results {
		if r.Due {
			n++
		}
	}
	return n
}

// Deltas counts all items delivered this cycle.
func (c *CycleReport) Deltas() int {
	n := 0
	for _, r := range c.Results {
		n += r.Deltas()
	}
	return n
}

// Registry owns the registered watchers and their handlers, and runs
// dispatch cycles over them. It is not safe for concurrent use: one cycle at
// a time, one process per state database.
type Registry struct {
	// Warnf reports non-fatal conditions such as a registration being
	// replaced. Defaults to log.Printf.
	Warnf func(format string, args ...any)

	store    *state.Store
	identity string
	clock    Clock
	entries  map[string]func(ctx context.Context, c client.Client) WatcherResult
}

// NewRegistry creates an empty registry. identity is the bot's own user,
// used as the default timeline user. clock may be nil for wall-clock time.
func NewRegistry(store *state.Store, identity string, clock Clock) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		Warnf:    log.Printf,
		store:    store,
		identity: identity,
		clock:    clock,
		entries:  make(map[string]func(ctx context.Context, c client.Client) WatcherResult),
	}
}

// WatchTimeline registers a timeline watcher. user defaults to the bot's own
// identity for non-public kinds. Registering a key twice replaces the prior
// entry and logs a warning.
func (r *Registry) WatchTimeline(kind client.TimelineKind, user string, interval time.Duration, handler TimelineHandler) error {
	if handler == nil {
		return &ValidationError{Field: "handler", Reason: "is required"}
	}
	if user == "" {
		user = r.identity
	}

	w, err := NewTimelineWatcher(r.store, kind, user, interval, r.clock)
	if err != nil {
		return err
	}

	r.add(w.Key(), func(ctx context.Context, c client.Client) WatcherResult {
		items, due, err := w.Check(ctx, c)
		res := WatcherResult{Key: w.Key(), Due: due, Err: err}
		if err != nil || !due {
			return res
		}
		for i, item := range items {
			if err := handler(item); err != nil {
				res.Added = items[:i]
				res.Err = &HandlerError{Key: w.Key(), Err: err}
				return res
			}
		}
		res.Added = items
		return res
	})
	return nil
}

// WatchLinks registers a link-set watcher. At least one of onAdded and
// onRemoved must be supplied; a nil handler simply skips that side of the
// delta. Registering a key twice replaces the prior entry and logs a
// warning.
func (r *Registry) WatchLinks(direction, user string, interval time.Duration, onAdded, onRemoved LinkHandler) error {
	if onAdded == nil && onRemoved == nil {
		return &ValidationError{Field: "handler", Reason: "at least one of the added/removed handlers is required"}
	}

	w, err := NewLinkSetWatcher(r.store, direction, user, interval, r.clock)
	if err != nil {
		return err
	}

	r.add(w.Key(), func(ctx context.Context, c client.Client) WatcherResult {
		added, removed, due, err := w.Check(ctx, c)
		res := WatcherResult{Key: w.Key(), Due: due, Err: err}
		if err != nil || !due {
			return res
		}
		if onAdded != nil {
			for i, member := range added {
				if err := onAdded(member); err != nil {
					res.Added = added[:i]
					res.Err = &HandlerError{Key: w.Key(), Err: err}
					return res
				}
			}
		}
		res.Added = added
		if onRemoved != nil {
			for i, member := range removed {
				if err := onRemoved(member); err != nil {
					res.Removed = removed[:i]
					res.Err = &HandlerError{Key: w.Key(), Err: err}
					return res
				}
			}
		}
		res.Removed = removed
		return res
	})
	return nil
}

func (r *Registry) add(key string, run func(ctx context.Context, c client.Client) WatcherResult) {
	if _, exists := r.entries[key]; exists {
		r.Warnf("watch %s: replacing existing registration", key)
	}
	r.entries[key] = run
}

// Keys returns the registered watcher keys in dispatch order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RunCycle checks every registered watcher in lexicographic key order and
// invokes handlers synchronously, once per delta, in delta order, strictly
// after the watcher's state mutation.
//
// Transport and storage failures are per-watcher: the cycle still visits the
// remaining watchers and the collected errors come back joined. A handler
// failure is different by contract: it aborts the remainder of the cycle
// immediately, with no isolation between handlers.
func (r *Registry) RunCycle(ctx context.Context, c client.Client) (*CycleReport, error) {
	report := &CycleReport{
		ID:        uuid.NewString(),
		StartedAt: r.clock(),
	}

	var failures []error
	for _, key := range r.Keys() {
		res := r.entries[key](ctx, c)
		report.Results = append(report.Results, res)
		if res.Err == nil {
			continue
		}
		var herr *HandlerError
		if errors.As(res.Err, &herr) {
			r.record(ctx, report, &failures)
			failures = append(failures, res.Err)
			return report, errors.Join(failures...)
		}
		failures = append(failures, res.Err)
	}

	r.record(ctx, report, &failures)
	return report, errors.Join(failures...)
}

func (r *Registry) record(ctx context.Context, report *CycleReport, failures *[]error) {
	err := r.store.RecordCycle(ctx, state.CycleRecord{
		ID:          report.ID,
		StartedAt:   report.StartedAt,
		WatchersDue: report.Due(),
		Deltas:      report.Deltas(),
	})
	if err != nil {
		*failures = append(*failures, err)
	}
}
