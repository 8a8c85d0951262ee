// Package client defines the remote API capability watchers poll against.
package client

import (
	"context"
	"fmt"
)

// TimelineKind selects which timeline a fetch reads.
type TimelineKind string

const (
	// KindUser is a single user's own posts.
	KindUser TimelineKind = "user"
	// KindHome is the aggregate feed of accounts the user follows.
	KindHome TimelineKind = "home"
	// KindPublic is the instance-wide public feed. It has no user.
	KindPublic TimelineKind = "public"
)

// Direction selects which side of a user's link set a fetch reads.
type Direction string

const (
	// DirectionFollowing is the outbound link set (accounts the user follows).
	DirectionFollowing Direction = "following"
	// DirectionFollowers is the inbound link set (accounts following the user).
	DirectionFollowers Direction = "followers"
)

// Item is one timeline post or link-set member as the remote API returned it.
// ID is the only field the diff engine interprets; Attrs carries the rest of
// the payload verbatim.
type Item struct {
	ID    string
	Attrs map[string]any
}

// Client fetches remote collections. Implementations own authentication,
// transport, and timeouts; watchers treat a fetch as a single blocking call.
type Client interface {
	// FetchTimeline returns up to limit of the most recent items for the
	// given timeline, in the remote API's order. user is ignored for
	// KindPublic.
	FetchTimeline(ctx context.Context, kind TimelineKind, user string, limit int) ([]Item, error)

	// FetchLinks returns the full current membership of the user's link set,
	// in the remote API's order.
	FetchLinks(ctx context.Context, direction Direction, user string) ([]Item, error)
}

// TransportError wraps a failed remote fetch. Watchers that see one leave
// their last-checked timestamp untouched so the next cycle retries.
type TransportError struct {
	Op  string // "timeline" or "links"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
