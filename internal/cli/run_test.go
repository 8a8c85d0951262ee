package cli

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/config"
	"github.com/pkoval/perch/internal/state"
	"github.com/pkoval/perch/internal/watch"
)

func TestBuildClientSelection(t *testing.T) {
	c, err := buildClient(&config.Config{API: config.APIConfig{BaseURL: "https://api.example.com"}})
	if err != nil {
		t.Fatalf("build api client: %v", err)
	}
	if _, ok := c.(*client.HTTPClient); !ok {
		t.Fatalf("expected HTTPClient, got %T", c)
	}

	c, err = buildClient(&config.Config{Feeds: map[string]string{"bob": "https://example.com/feed.xml"}})
	if err != nil {
		t.Fatalf("build feed client: %v", err)
	}
	if _, ok := c.(*client.FeedClient); !ok {
		t.Fatalf("expected FeedClient, got %T", c)
	}

	if _, err := buildClient(&config.Config{}); err == nil {
		t.Fatalf("expected error without remotes")
	}
}

func TestNotifyEnabled(t *testing.T) {
	if !notifyEnabled(nil, "added") || !notifyEnabled(nil, "removed") {
		t.Fatalf("empty notify list must enable both sides")
	}
	if !notifyEnabled([]string{"added"}, "added") {
		t.Fatalf("expected added to be enabled")
	}
	if notifyEnabled([]string{"added"}, "removed") {
		t.Fatalf("expected removed to be disabled")
	}
}

func TestRegisterWatchesValidatesConfig(t *testing.T) {
	st, err := state.Open(filepath.Join(t.TempDir(), "perch.db"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := watch.NewRegistry(st, "me", nil)
	cfg := &config.Config{
		Identity: "me",
		Watches: config.WatchesConfig{
			Timelines: []config.TimelineWatch{
				{Kind: "bogus", User: "bob", Interval: config.Duration{Duration: time.Minute}},
			},
		},
	}

	err = registerWatches(reg, cfg)
	var verr *watch.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRegisterWatchesBindsHandlers(t *testing.T) {
	st, err := state.Open(filepath.Join(t.TempDir(), "perch.db"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := watch.NewRegistry(st, "me", nil)
	cfg := &config.Config{
		Identity: "me",
		Watches: config.WatchesConfig{
			Timelines: []config.TimelineWatch{
				{Kind: "user", User: "bob", Interval: config.Duration{Duration: time.Minute}},
			},
			Links: []config.LinkWatch{
				{Direction: "followers", User: "me", Interval: config.Duration{Duration: time.Hour}, Notify: []string{"added"}},
			},
		},
	}

	if err := registerWatches(reg, cfg); err != nil {
		t.Fatalf("register watches: %v", err)
	}

	keys := reg.Keys()
	want := []string{"links/followers/me", "timeline/user/bob"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
