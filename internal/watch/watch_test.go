package watch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "perch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func post(id string) client.Item {
	return client.Item{ID: id, Attrs: map[string]any{"id": id, "title": "post " + id}}
}

// stubClock is a manually advanced clock for gating tests.
type stubClock struct {
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time { return c.now }

func (c *stubClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeClient serves canned collections keyed by user and counts fetches.
type fakeClient struct {
	timelines   map[string][]client.Item // user ("" for public) -> items
	links       map[string][]client.Item // user -> members
	timelineErr map[string]error
	linksErr    map[string]error

	timelineCalls int
	linksCalls    int
	lastLimit     int
}

func (c *fakeClient) FetchTimeline(_ context.Context, _ client.TimelineKind, user string, limit int) ([]client.Item, error) {
	c.timelineCalls++
	c.lastLimit = limit
	if err := c.timelineErr[user]; err != nil {
		return nil, &client.TransportError{Op: "timeline", Err: err}
	}
	return c.timelines[user], nil
}

func (c *fakeClient) FetchLinks(_ context.Context, _ client.Direction, user string) ([]client.Item, error) {
	c.linksCalls++
	if err := c.linksErr[user]; err != nil {
		return nil, &client.TransportError{Op: "links", Err: err}
	}
	return c.links[user], nil
}

func ids(items []client.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func equalIDs(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
