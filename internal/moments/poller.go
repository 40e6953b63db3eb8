// Package moments polls the protocol's moments-style feed on a timer and
// injects new items as ambient context, never as replyable messages.
package moments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/protocol"
)

const (
	// initialDelay staggers the first fetch so it does not race login
	// bookkeeping on the protocol side.
	initialDelay = 15 * time.Second

	maxCommentsShown = 2
)

// ContextSink receives formatted feed blocks for one account.
type ContextSink interface {
	InjectContext(accountID, block string)
}

// pollerState is the persisted watermark.
type pollerState struct {
	LastPollTime int64 `json:"last_poll_time"` // epoch seconds
}

// Poller periodically fetches the feed for one account and forwards items
// newer than the watermark to the context sink. The watermark advances to
// "now" every cycle whether or not items were found, so a feed that keeps
// returning the same entries is never re-processed.
type Poller struct {
	accountID string
	source    protocol.FeedSource
	sink      ContextSink
	interval  time.Duration
	maxItems  int
	statePath string

	now func() time.Time

	mu           sync.Mutex
	lastPollTime int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a poller. source must be non-nil; callers perform the
// capability check (see Capable).
func New(accountID string, source protocol.FeedSource, sink ContextSink, interval time.Duration, maxItems int, statePath string) *Poller {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	if maxItems <= 0 {
		maxItems = 10
	}
	return &Poller{
		accountID: accountID,
		source:    source,
		sink:      sink,
		interval:  interval,
		maxItems:  maxItems,
		statePath: statePath,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Capable reports whether the client supports feed polling, returning the
// feed source when it does. The caller logs the absence once at start.
func Capable(client protocol.Client) (protocol.FeedSource, bool) {
	src, ok := client.(protocol.FeedSource)
	return src, ok
}

// Start launches the poll loop: one short initial delay, then the fixed
// interval. The loop stops when Stop is called.
func (p *Poller) Start() {
	p.loadState()
	go p.run()
}

// Stop prevents any further fetch, including one still pending behind the
// initial delay, and waits for the loop to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Poller) run() {
	defer close(p.doneCh)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	select {
	case <-p.stopCh:
		return
	case <-timer.C:
	}
	p.poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one fetch cycle. Fetch errors leave the watermark untouched so
// the missed window is retried next cycle.
func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	items, err := p.source.FetchFeed(ctx, p.maxItems)
	if err != nil {
		slog.Warn("moments: feed fetch failed", "account", p.accountID, "error", err)
		return
	}

	// A fetch that was mid-flight when Stop was called completes, but its
	// result is discarded.
	select {
	case <-p.stopCh:
		return
	default:
	}

	p.mu.Lock()
	watermark := p.lastPollTime
	p.lastPollTime = p.now().Unix()
	p.mu.Unlock()
	p.saveState()

	fresh := 0
	for _, item := range items {
		if item.CreatedAtEpoch <= watermark {
			continue
		}
		body := strings.TrimSpace(item.Body)
		if body == "" {
			continue
		}
		p.sink.InjectContext(p.accountID, p.formatItem(item, body))
		fresh++
	}

	if fresh > 0 {
		slog.Debug("moments: injected feed items",
			"account", p.accountID, "count", fresh)
	}
}

// formatItem renders one feed item as a structured context block.
func (p *Poller) formatItem(item protocol.FeedItem, body string) string {
	var b strings.Builder

	author := item.AuthorName
	if author == "" {
		author = item.AuthorID
	}
	fmt.Fprintf(&b, "[moments] %s · %s\n", author, relativeTime(p.now(), item.CreatedAtEpoch))
	b.WriteString(body)

	if item.MediaCount > 0 || item.LikeCount > 0 {
		b.WriteString("\n(")
		if item.MediaCount > 0 {
			fmt.Fprintf(&b, "%d media", item.MediaCount)
		}
		if item.LikeCount > 0 {
			if item.MediaCount > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d likes", item.LikeCount)
		}
		b.WriteString(")")
	}

	comments := item.TopComments
	if len(comments) > maxCommentsShown {
		comments = comments[:maxCommentsShown]
	}
	for _, c := range comments {
		if c = strings.TrimSpace(c); c != "" {
			fmt.Fprintf(&b, "\n> %s", c)
		}
	}

	return b.String()
}

func relativeTime(now time.Time, epoch int64) string {
	d := now.Sub(time.Unix(epoch, 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func (p *Poller) loadState() {
	if p.statePath == "" {
		return
	}
	data, err := os.ReadFile(p.statePath)
	if err != nil {
		return
	}
	var st pollerState
	if json.Unmarshal(data, &st) == nil {
		p.mu.Lock()
		p.lastPollTime = st.LastPollTime
		p.mu.Unlock()
	}
}

func (p *Poller) saveState() {
	if p.statePath == "" {
		return
	}
	p.mu.Lock()
	st := pollerState{LastPollTime: p.lastPollTime}
	p.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.statePath), 0o755); err != nil {
		slog.Warn("moments: create state dir failed", "account", p.accountID, "error", err)
		return
	}
	if err := os.WriteFile(p.statePath, data, 0o644); err != nil {
		// In-memory watermark stays authoritative until the next write.
		slog.Warn("moments: persist state failed", "account", p.accountID, "error", err)
	}
}
