package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/pkoval/perch/internal/watch"
)

type jsonCycle struct {
	Meta     jsonMeta      `json:"meta"`
	Watchers []jsonWatcher `json:"watchers"`
}

type jsonMeta struct {
	CycleID   string `json:"cycle_id"`
	StartedAt string `json:"started_at"`
	Watchers  int    `json:"watchers"`
	Due       int    `json:"due"`
	Deltas    int    `json:"deltas"`
}

type jsonWatcher struct {
	Key     string           `json:"key"`
	Due     bool             `json:"due"`
	Added   []map[string]any `json:"added,omitempty"`
	Removed []map[string]any `json:"removed,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// JSONFormatter formats a cycle report as indented JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) Format(w io.Writer, cycle *watch.CycleReport) error {
	out := jsonCycle{
		Meta: jsonMeta{
			CycleID:   cycle.ID,
			StartedAt: cycle.StartedAt.UTC().Format(time.RFC3339),
			Watchers:  len(cycle.Results),
			Due:       cycle.Due(),
			Deltas:    cycle.Deltas(),
		},
		Watchers: make([]jsonWatcher, 0, len(cycle.Results)),
	}

	for _, res := range cycle.Results {
		jw := jsonWatcher{Key: res.Key, Due: res.Due}
		for _, item := range res.Added {
			jw.Added = append(jw.Added, item.Attrs)
		}
		for _, item := range res.Removed {
			jw.Removed = append(jw.Removed, item.Attrs)
		}
		if res.Err != nil {
			jw.Error = res.Err.Error()
		}
		out.Watchers = append(out.Watchers, jw)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
