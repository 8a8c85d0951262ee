package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	feedFetchTimeout = 30 * time.Second
	feedUserAgent    = "Mozilla/5.0 (compatible; perch/1.0; +https://github.com/pkoval/perch)"
)

// FeedClient serves user timelines from RSS/Atom feeds, for accounts whose
// posts are exposed as a feed URL rather than an API. Home and public
// timelines and link sets are not available through feeds.
type FeedClient struct {
	feeds  map[string]string // user -> feed URL
	parser *gofeed.Parser
}

// NewFeed creates a feed-backed client. feeds maps a user identifier to that
// user's feed URL; at least one mapping is required.
func NewFeed(feeds map[string]string) (*FeedClient, error) {
	if len(feeds) == 0 {
		return nil, errors.New("rssfeed: at least one user feed is required")
	}

	parser := gofeed.NewParser()
	parser.Client = &http.Client{
		Timeout:   feedFetchTimeout,
		Transport: &feedTransport{base: http.DefaultTransport},
	}
	return &FeedClient{feeds: feeds, parser: parser}, nil
}

func (fc *FeedClient) FetchTimeline(ctx context.Context, kind TimelineKind, user string, limit int) ([]Item, error) {
	if kind != KindUser {
		return nil, &TransportError{Op: "timeline", Err: fmt.Errorf("rssfeed: %s timelines are not served by feeds", kind)}
	}
	feedURL, ok := fc.feeds[user]
	if !ok {
		return nil, &TransportError{Op: "timeline", Err: fmt.Errorf("rssfeed: no feed configured for user %q", user)}
	}

	feed, err := fc.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, &TransportError{Op: "timeline", Err: fmt.Errorf("fetch %s: %w", feedURL, err)}
	}

	return itemsFromFeed(feed, limit), nil
}

func (fc *FeedClient) FetchLinks(ctx context.Context, direction Direction, user string) ([]Item, error) {
	return nil, &TransportError{Op: "links", Err: errors.New("rssfeed: link sets are not served by feeds")}
}

func itemsFromFeed(feed *gofeed.Feed, limit int) []Item {
	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}

		attrs := map[string]any{
			"id":    entryID(entry),
			"title": entry.Title,
			"url":   entry.Link,
		}
		if ts := entryPublishedTime(entry); !ts.IsZero() {
			attrs["published_at"] = ts.UTC().Format(time.RFC3339)
		}
		if entry.Description != "" {
			attrs["text"] = entry.Description
		}

		items = append(items, Item{ID: entryID(entry), Attrs: attrs})
	}
	return items
}

func entryID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	return entry.Link
}

func entryPublishedTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

// feedTransport injects a User-Agent header into every request.
type feedTransport struct {
	base http.RoundTripper
}

func (t *feedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", feedUserAgent)
	return t.base.RoundTrip(req)
}
