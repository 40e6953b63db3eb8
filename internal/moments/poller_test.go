package moments

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/protocol"
)

type fakeFeed struct {
	mu      sync.Mutex
	items   []protocol.FeedItem
	err     error
	fetches int
}

func (f *fakeFeed) FetchFeed(ctx context.Context, max int) ([]protocol.FeedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeFeed) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type captureSink struct {
	mu     sync.Mutex
	blocks []string
}

func (s *captureSink) InjectContext(accountID, block string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, block)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func newTestPoller(t *testing.T, feed *fakeFeed, sink *captureSink) *Poller {
	t.Helper()
	return New("main", feed, sink, time.Minute, 10, filepath.Join(t.TempDir(), "moments.json"))
}

// TestPoll_Dedup verifies that only items newer than the watermark are
// emitted, and a re-poll returning the same items emits nothing.
func TestPoll_Dedup(t *testing.T) {
	now := time.Unix(10_000, 0)
	feed := &fakeFeed{items: []protocol.FeedItem{
		{AuthorID: "old", CreatedAtEpoch: 5_000, Body: "stale post"},
		{AuthorID: "new", CreatedAtEpoch: 9_500, Body: "fresh post"},
	}}
	sink := &captureSink{}

	p := newTestPoller(t, feed, sink)
	p.now = func() time.Time { return now }
	p.lastPollTime = 9_000

	p.poll()
	if sink.count() != 1 {
		t.Fatalf("expected 1 emitted item, got %d", sink.count())
	}
	if !strings.Contains(sink.blocks[0], "fresh post") {
		t.Errorf("wrong item emitted: %q", sink.blocks[0])
	}

	// Same items again: watermark has advanced to now, nothing re-emitted.
	p.poll()
	if sink.count() != 1 {
		t.Errorf("re-poll re-emitted items: %d blocks", sink.count())
	}
}

// TestPoll_WatermarkAdvancesOnEmpty verifies that the watermark moves to
// "now" after every cycle, items or not.
func TestPoll_WatermarkAdvancesOnEmpty(t *testing.T) {
	now := time.Unix(20_000, 0)
	feed := &fakeFeed{}
	p := newTestPoller(t, feed, &captureSink{})
	p.now = func() time.Time { return now }
	p.lastPollTime = 1

	p.poll()
	if p.lastPollTime != 20_000 {
		t.Errorf("lastPollTime = %d, want 20000", p.lastPollTime)
	}
}

// TestPoll_FetchErrorKeepsWatermark verifies that a failed fetch leaves the
// watermark untouched so the window is retried.
func TestPoll_FetchErrorKeepsWatermark(t *testing.T) {
	feed := &fakeFeed{err: errors.New("bridge down")}
	p := newTestPoller(t, feed, &captureSink{})
	p.lastPollTime = 7_777

	p.poll()
	if p.lastPollTime != 7_777 {
		t.Errorf("lastPollTime = %d, want unchanged 7777", p.lastPollTime)
	}
}

// TestPoll_DropsEmptyBodies verifies that items whose body is empty after
// trimming never reach the sink.
func TestPoll_DropsEmptyBodies(t *testing.T) {
	now := time.Unix(10_000, 0)
	feed := &fakeFeed{items: []protocol.FeedItem{
		{AuthorID: "a", CreatedAtEpoch: 9_999, Body: "   \n  "},
		{AuthorID: "b", CreatedAtEpoch: 9_999, Body: "real content"},
	}}
	sink := &captureSink{}
	p := newTestPoller(t, feed, sink)
	p.now = func() time.Time { return now }

	p.poll()
	if sink.count() != 1 {
		t.Errorf("expected only the non-empty item, got %d", sink.count())
	}
}

// TestPoll_StatePersistence verifies that the watermark survives a restart
// via the state file.
func TestPoll_StatePersistence(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "moments.json")
	now := time.Unix(33_333, 0)

	p1 := New("main", &fakeFeed{}, &captureSink{}, time.Minute, 10, statePath)
	p1.now = func() time.Time { return now }
	p1.poll()

	p2 := New("main", &fakeFeed{}, &captureSink{}, time.Minute, 10, statePath)
	p2.loadState()
	if p2.lastPollTime != 33_333 {
		t.Errorf("restored lastPollTime = %d, want 33333", p2.lastPollTime)
	}
}

// TestStop_BeforeInitialDelay verifies that Stop prevents the fetch still
// pending behind the initial delay from ever firing.
func TestStop_BeforeInitialDelay(t *testing.T) {
	feed := &fakeFeed{}
	p := newTestPoller(t, feed, &captureSink{})

	p.Start()
	p.Stop()

	if n := feed.fetchCount(); n != 0 {
		t.Errorf("fetch fired %d times after Stop, want 0", n)
	}
}

// TestFormatItem verifies the structured block: author, relative time,
// body, counts, and at most two top comments.
func TestFormatItem(t *testing.T) {
	p := newTestPoller(t, &fakeFeed{}, &captureSink{})
	p.now = func() time.Time { return time.Unix(10_000, 0) }

	item := protocol.FeedItem{
		AuthorID:       "wxid_a",
		AuthorName:     "Ada",
		CreatedAtEpoch: 10_000 - 90,
		Body:           "shipping day",
		MediaCount:     3,
		LikeCount:      7,
		TopComments:    []string{"nice", "congrats", "third hidden"},
	}
	block := p.formatItem(item, item.Body)

	for _, want := range []string{"Ada", "1m ago", "shipping day", "3 media", "7 likes", "> nice", "> congrats"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
	if strings.Contains(block, "third hidden") {
		t.Errorf("block shows more than two comments:\n%s", block)
	}
}
