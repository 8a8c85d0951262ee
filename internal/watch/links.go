package watch

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/state"
)

// ParseDirection normalizes a link-set direction. "following", "friends",
// and "outbound" name the outbound set; "followers" and "inbound" the
// inbound one.
func ParseDirection(s string) (client.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "following", "friends", "outbound":
		return client.DirectionFollowing, nil
	case "followers", "inbound":
		return client.DirectionFollowers, nil
	default:
		return "", &ValidationError{Field: "direction", Reason: "must be following/friends or followers"}
	}
}

// LinkSetWatcher watches one (user, direction) pair and reports membership
// changes against its persisted snapshot.
//
// A fetch returns a single unpaginated snapshot. If the remote membership
// ever exceeds what one fetch returns, members beyond it are reported as
// removed even though they still exist remotely. That hazard is inherited
// from the single-page fetch model and is not corrected here.
type LinkSetWatcher struct {
	key       string
	direction client.Direction
	user      string
	interval  time.Duration
	store     *state.Store
	gate      gate
}

// NewLinkSetWatcher validates the configuration and binds the watcher to its
// persisted state. user must be non-empty and contain no whitespace.
func NewLinkSetWatcher(store *state.Store, direction string, user string, interval time.Duration, clock Clock) (*LinkSetWatcher, error) {
	if store == nil {
		return nil, &ValidationError{Field: "store", Reason: "is required"}
	}
	dir, err := ParseDirection(direction)
	if err != nil {
		return nil, err
	}
	if user == "" {
		return nil, &ValidationError{Field: "user", Reason: "is required"}
	}
	if strings.IndexFunc(user, unicode.IsSpace) >= 0 {
		return nil, &ValidationError{Field: "user", Reason: "must not contain whitespace"}
	}
	if interval <= 0 {
		return nil, &ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if clock == nil {
		clock = time.Now
	}

	key := linksKey(dir, user)
	return &LinkSetWatcher{
		key:       key,
		direction: dir,
		user:      user,
		interval:  interval,
		store:     store,
		gate:      gate{key: key, interval: interval, store: store, clock: clock},
	}, nil
}

// Key identifies the watcher within a registry and names its persisted
// state.
func (w *LinkSetWatcher) Key() string { return w.key }

// Check fetches the link set if the watcher is due and diffs it against the
// persisted snapshot. added holds members absent from the snapshot, in the
// remote API's order; removed holds the last-known payloads of members that
// dropped out, sorted by ID. due reports whether the interval gate opened;
// when it is false no remote call was made and no state changed. After a
// successful Check the persisted snapshot mirrors the fetched membership
// exactly. On a fetch failure last_checked is left untouched and the next
// cycle retries.
func (w *LinkSetWatcher) Check(ctx context.Context, c client.Client) (added, removed []client.Item, due bool, err error) {
	now, due, err := w.gate.due(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	if !due {
		return nil, nil, false, nil
	}

	snapshot, err := c.FetchLinks(ctx, w.direction, w.user)
	if err != nil {
		return nil, nil, true, err
	}

	if err := w.store.SetLastChecked(ctx, w.key, now); err != nil {
		return nil, nil, true, err
	}

	persisted, err := w.store.Members(ctx, w.key)
	if err != nil {
		return nil, nil, true, err
	}

	current := make(map[string]struct{}, len(snapshot))
	for _, member := range snapshot {
		if _, dup := current[member.ID]; dup {
			continue
		}
		current[member.ID] = struct{}{}
		if _, ok := persisted[member.ID]; !ok {
			added = append(added, member)
		}
	}

	var removedIDs []string
	for id := range persisted {
		if _, ok := current[id]; !ok {
			removedIDs = append(removedIDs, id)
		}
	}
	sort.Strings(removedIDs)
	for _, id := range removedIDs {
		removed = append(removed, persisted[id])
	}

	if err := w.store.ApplyMembership(ctx, w.key, added, removedIDs, now); err != nil {
		return nil, nil, true, err
	}

	return added, removed, true, nil
}
