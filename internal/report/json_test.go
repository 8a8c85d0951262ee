package report

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONFormat(t *testing.T) {
	var buf strings.Builder
	if err := NewJSON().Format(&buf, sampleCycle()); err != nil {
		t.Fatalf("format: %v", err)
	}

	var out struct {
		Meta struct {
			CycleID  string `json:"cycle_id"`
			Watchers int    `json:"watchers"`
			Due      int    `json:"due"`
			Deltas   int    `json:"deltas"`
		} `json:"meta"`
		Watchers []struct {
			Key     string           `json:"key"`
			Due     bool             `json:"due"`
			Added   []map[string]any `json:"added"`
			Removed []map[string]any `json:"removed"`
			Error   string           `json:"error"`
		} `json:"watchers"`
	}
	if err := json.Unmarshal([]byte(buf.String()), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}

	if out.Meta.CycleID == "" || out.Meta.Watchers != 3 || out.Meta.Due != 2 || out.Meta.Deltas != 3 {
		t.Fatalf("unexpected meta: %+v", out.Meta)
	}
	if len(out.Watchers) != 3 {
		t.Fatalf("expected 3 watcher entries, got %d", len(out.Watchers))
	}

	links := out.Watchers[0]
	if links.Key != "links/followers/alice" || len(links.Added) != 1 || len(links.Removed) != 1 {
		t.Fatalf("unexpected links entry: %+v", links)
	}
	if links.Added[0]["name"] != "carol" {
		t.Fatalf("payload not preserved: %+v", links.Added[0])
	}

	quiet := out.Watchers[2]
	if quiet.Due || len(quiet.Added) != 0 {
		t.Fatalf("unexpected quiet entry: %+v", quiet)
	}
}
