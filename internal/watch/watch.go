// Package watch implements the interval-gated diff engine: watchers that
// decide when a remote collection is due for a re-check, diff the fetched
// snapshot against persisted state, and hand newly observed deltas to
// registered handlers.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/state"
)

// Clock returns the current time. Watchers take one so interval gating can
// run against simulated time in tests; nil means time.Now.
type Clock func() time.Time

// ValidationError reports malformed registration or construction input. It
// is always returned immediately, before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// HandlerError wraps a failure raised by a registered handler during
// dispatch. It aborts the remainder of the cycle.
type HandlerError struct {
	Key string
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s: %v", e.Key, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// gate is the interval check shared by both watcher kinds. due never touches
// the remote API: an off-cadence invocation costs one timestamp read.
type gate struct {
	key      string
	interval time.Duration
	store    *state.Store
	clock    Clock
}

// due reports whether the watcher should check now. The returned time is the
// check's start, captured before any remote call; a successful check records
// it as last_checked so interval accounting is insulated from fetch latency.
func (g *gate) due(ctx context.Context) (time.Time, bool, error) {
	now := g.clock()
	last, ok, err := g.store.LastChecked(ctx, g.key)
	if err != nil {
		return now, false, err
	}
	if !ok {
		return now, true, nil
	}
	return now, now.Sub(last) >= g.interval, nil
}

func timelineKey(kind client.TimelineKind, user string) string {
	if kind == client.KindPublic {
		return "timeline/public"
	}
	return "timeline/" + string(kind) + "/" + user
}

func linksKey(direction client.Direction, user string) string {
	return "links/" + string(direction) + "/" + user
}
