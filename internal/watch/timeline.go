package watch

import (
	"context"
	"time"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/state"
)

// timelineFetchLimit caps a single fetch. There is no pagination: if more
// than one page of items is new, the overflow surfaces on a later cycle once
// the dedup set still lacks it.
const timelineFetchLimit = 200

// TimelineWatcher watches one (user, timeline-kind) pair and reports items
// not yet present in its persisted seen-ID set.
type TimelineWatcher struct {
	key      string
	kind     client.TimelineKind
	user     string
	interval time.Duration
	store    *state.Store
	gate     gate
}

// NewTimelineWatcher validates the configuration and binds the watcher to
// its persisted state. user is required unless kind is the public feed.
func NewTimelineWatcher(store *state.Store, kind client.TimelineKind, user string, interval time.Duration, clock Clock) (*TimelineWatcher, error) {
	if store == nil {
		return nil, &ValidationError{Field: "store", Reason: "is required"}
	}
	switch kind {
	case client.KindUser, client.KindHome, client.KindPublic:
	default:
		return nil, &ValidationError{Field: "kind", Reason: "must be user, home, or public"}
	}
	if kind == client.KindPublic {
		user = ""
	} else if user == "" {
		return nil, &ValidationError{Field: "user", Reason: "is required for " + string(kind) + " timelines"}
	}
	if interval <= 0 {
		return nil, &ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if clock == nil {
		clock = time.Now
	}

	key := timelineKey(kind, user)
	return &TimelineWatcher{
		key:      key,
		kind:     kind,
		user:     user,
		interval: interval,
		store:    store,
		gate:     gate{key: key, interval: interval, store: store, clock: clock},
	}, nil
}

// Key identifies the watcher within a registry and names its persisted
// state.
func (w *TimelineWatcher) Key() string { return w.key }

// Check fetches the timeline if the watcher is due and returns the items not
// seen before, in the remote API's order. due reports whether the interval
// gate opened; when it is false no remote call was made and no state
// changed. New items are recorded in the dedup set and last_checked advances
// to the check's start time before Check returns, so deltas are handed out
// only after state reflects them. On a fetch failure last_checked is left
// untouched and the next cycle retries.
func (w *TimelineWatcher) Check(ctx context.Context, c client.Client) (items []client.Item, due bool, err error) {
	now, due, err := w.gate.due(ctx)
	if err != nil {
		return nil, false, err
	}
	if !due {
		return nil, false, nil
	}

	fetched, err := c.FetchTimeline(ctx, w.kind, w.user, timelineFetchLimit)
	if err != nil {
		return nil, true, err
	}

	if err := w.store.SetLastChecked(ctx, w.key, now); err != nil {
		return nil, true, err
	}

	seen, err := w.store.SeenIDs(ctx, w.key)
	if err != nil {
		return nil, true, err
	}

	var fresh []client.Item
	for _, item := range fetched {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		fresh = append(fresh, item)
	}

	if err := w.store.MarkSeen(ctx, w.key, fresh, now); err != nil {
		return nil, true, err
	}

	return fresh, true, nil
}
