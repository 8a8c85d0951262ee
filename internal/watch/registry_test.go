package watch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pkoval/perch/internal/client"
)

func TestWatchTimelineValidation(t *testing.T) {
	reg := NewRegistry(newTestStore(t), "me", newStubClock().Now)

	err := reg.WatchTimeline(client.KindUser, "bob", time.Minute, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for nil handler, got %v", err)
	}

	err = reg.WatchTimeline(client.TimelineKind("bogus"), "bob", time.Minute, func(client.Item) error { return nil })
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for bad kind, got %v", err)
	}

	// A failed registration leaves the registry untouched.
	if len(reg.Keys()) != 0 {
		t.Fatalf("expected no registrations, got %v", reg.Keys())
	}
}

func TestWatchTimelineDefaultsToIdentity(t *testing.T) {
	reg := NewRegistry(newTestStore(t), "me", newStubClock().Now)

	if err := reg.WatchTimeline(client.KindUser, "", time.Minute, func(client.Item) error { return nil }); err != nil {
		t.Fatalf("watch timeline: %v", err)
	}

	keys := reg.Keys()
	if len(keys) != 1 || keys[0] != "timeline/user/me" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestWatchLinksRequiresAHandler(t *testing.T) {
	reg := NewRegistry(newTestStore(t), "me", newStubClock().Now)

	err := reg.WatchLinks("followers", "alice", time.Minute, nil, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if err := reg.WatchLinks("followers", "alice", time.Minute, func(client.Item) error { return nil }, nil); err != nil {
		t.Fatalf("watch links with one handler: %v", err)
	}
}

func TestReplacingRegistrationWarns(t *testing.T) {
	reg := NewRegistry(newTestStore(t), "me", newStubClock().Now)

	var warnings []string
	reg.Warnf = func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	handler := func(client.Item) error { return nil }
	if err := reg.WatchTimeline(client.KindUser, "bob", time.Minute, handler); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warning on first registration: %v", warnings)
	}

	if err := reg.WatchTimeline(client.KindUser, "bob", time.Hour, handler); err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one overwrite warning, got %v", warnings)
	}
	if len(reg.Keys()) != 1 {
		t.Fatalf("expected one entry after overwrite, got %v", reg.Keys())
	}
}

func TestRunCycleDispatchOrder(t *testing.T) {
	st := newTestStore(t)
	clk := newStubClock()
	reg := NewRegistry(st, "me", clk.Now)
	fc := &fakeClient{
		timelines: map[string][]client.Item{"a": {post("t1"), post("t2")}},
		links:     map[string][]client.Item{"b": {post("m1"), post("m2"), post("m3")}},
	}

	var calls []string
	err := reg.WatchTimeline(client.KindUser, "a", time.Minute, func(item client.Item) error {
		calls = append(calls, "timeline:"+item.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("watch timeline: %v", err)
	}
	err = reg.WatchLinks("followers", "b", time.Minute, func(member client.Item) error {
		calls = append(calls, "added:"+member.ID)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("watch links: %v", err)
	}

	cycle, err := reg.RunCycle(context.Background(), fc)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	// Keys dispatch lexicographically: links/... before timeline/...; within
	// each watcher, deltas keep their order.
	want := []string{"added:m1", "added:m2", "added:m3", "timeline:t1", "timeline:t2"}
	if !equalIDs(calls, want) {
		t.Fatalf("unexpected dispatch order: %v", calls)
	}

	if cycle.Due() != 2 || cycle.Deltas() != 5 {
		t.Fatalf("unexpected cycle counts: due=%d deltas=%d", cycle.Due(), cycle.Deltas())
	}
	if cycle.ID == "" || cycle.StartedAt.IsZero() {
		t.Fatalf("cycle missing identity: %+v", cycle)
	}
}

func TestRunCycleCollectsTransportErrors(t *testing.T) {
	st := newTestStore(t)
	clk := newStubClock()
	reg := NewRegistry(st, "me", clk.Now)
	fc := &fakeClient{
		timelines:   map[string][]client.Item{"ok": {post("1")}},
		timelineErr: map[string]error{"bad": errors.New("boom")},
	}

	var delivered []string
	handler := func(item client.Item) error {
		delivered = append(delivered, item.ID)
		return nil
	}
	if err := reg.WatchTimeline(client.KindUser, "bad", time.Minute, handler); err != nil {
		t.Fatalf("watch bad: %v", err)
	}
	if err := reg.WatchTimeline(client.KindUser, "ok", time.Minute, handler); err != nil {
		t.Fatalf("watch ok: %v", err)
	}

	cycle, err := reg.RunCycle(context.Background(), fc)
	if err == nil {
		t.Fatalf("expected aggregate error")
	}
	var terr *client.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError in aggregate, got %v", err)
	}

	// The failing watcher did not stop the healthy one.
	if !equalIDs(delivered, []string{"1"}) {
		t.Fatalf("expected healthy watcher to deliver, got %v", delivered)
	}
	if len(cycle.Results) != 2 {
		t.Fatalf("expected both watchers in the report, got %d", len(cycle.Results))
	}
	if cycle.Results[0].Err == nil || cycle.Results[1].Err != nil {
		t.Fatalf("unexpected per-watcher errors: %v, %v", cycle.Results[0].Err, cycle.Results[1].Err)
	}
}

func TestRunCycleHandlerErrorAbortsCycle(t *testing.T) {
	st := newTestStore(t)
	clk := newStubClock()
	reg := NewRegistry(st, "me", clk.Now)
	fc := &fakeClient{
		links:     map[string][]client.Item{"b": {post("m1"), post("m2")}},
		timelines: map[string][]client.Item{"z": {post("1")}},
	}

	failing := func(member client.Item) error { return errors.New("handler blew up") }
	if err := reg.WatchLinks("followers", "b", time.Minute, failing, nil); err != nil {
		t.Fatalf("watch links: %v", err)
	}
	if err := reg.WatchTimeline(client.KindUser, "z", time.Minute, func(client.Item) error { return nil }); err != nil {
		t.Fatalf("watch timeline: %v", err)
	}

	_, err := reg.RunCycle(context.Background(), fc)
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("expected HandlerError, got %v", err)
	}

	// links/... dispatches first; the handler failure must skip the
	// timeline watcher entirely.
	if fc.timelineCalls != 0 {
		t.Fatalf("expected remaining watchers to be skipped, timeline fetched %d times", fc.timelineCalls)
	}
}

func TestRunCycleRecordsHistory(t *testing.T) {
	st := newTestStore(t)
	clk := newStubClock()
	reg := NewRegistry(st, "me", clk.Now)
	fc := &fakeClient{timelines: map[string][]client.Item{"a": {post("1"), post("2")}}}

	if err := reg.WatchTimeline(client.KindUser, "a", time.Minute, func(client.Item) error { return nil }); err != nil {
		t.Fatalf("watch timeline: %v", err)
	}

	cycle, err := reg.RunCycle(context.Background(), fc)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	recs, err := st.RecentCycles(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent cycles: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 cycle record, got %d", len(recs))
	}
	if recs[0].ID != cycle.ID || recs[0].Deltas != 2 || recs[0].WatchersDue != 1 {
		t.Fatalf("unexpected cycle record: %+v", recs[0])
	}
}

// A handler failure during removal delivery is not retried: the membership
// snapshot already reflects the new remote state, so the removal is
// delivered at most once. Timeline items behave the same once marked seen.
// This is the accepted delivery asymmetry of mutate-then-deliver.
func TestLinkRemovalDeliveredAtMostOnce(t *testing.T) {
	st := newTestStore(t)
	clk := newStubClock()
	reg := NewRegistry(st, "me", clk.Now)
	fc := &fakeClient{links: map[string][]client.Item{"b": {post("A")}}}

	var removals []string
	fail := true
	err := reg.WatchLinks("followers", "b", time.Minute, func(client.Item) error { return nil }, func(member client.Item) error {
		if fail {
			return errors.New("crash during delivery")
		}
		removals = append(removals, member.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("watch links: %v", err)
	}

	if _, err := reg.RunCycle(context.Background(), fc); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}

	// A drops out; the removal handler fails mid-delivery.
	fc.links["b"] = nil
	clk.Advance(time.Minute)
	if _, err := reg.RunCycle(context.Background(), fc); err == nil {
		t.Fatalf("expected handler error")
	}

	// Next cycle: members already mirrors the empty set, nothing to redeliver.
	fail = false
	clk.Advance(time.Minute)
	if _, err := reg.RunCycle(context.Background(), fc); err != nil {
		t.Fatalf("follow-up cycle: %v", err)
	}
	if len(removals) != 0 {
		t.Fatalf("removal was redelivered: %v", removals)
	}
}
