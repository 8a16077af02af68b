package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"repostbot/internal/storage"
	"repostbot/internal/vk"
)

type fakeFeed struct {
	mu        sync.Mutex
	walls     map[int64][]vk.Post
	wallErr   map[int64]error
	groups    map[string]vk.Group
	wallCalls int
}

func (f *fakeFeed) RecentPosts(ctx context.Context, sourceID int64, count int) ([]vk.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallCalls++
	if err := f.wallErr[sourceID]; err != nil {
		return nil, err
	}
	return f.walls[sourceID], nil
}

func (f *fakeFeed) GroupInfo(ctx context.Context, query string) (vk.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[query]; ok {
		return g, nil
	}
	return vk.Group{Name: "Group " + query, Domain: query}, nil
}

type delivery struct {
	to     int64
	chunks []string
	media  []string
}

type fakeSender struct {
	mu         sync.Mutex
	deliveries []delivery
	reachErr   map[int64]error
	deliverErr map[int64]error
}

func (f *fakeSender) Reachable(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachErr[id]
}

func (f *fakeSender) Deliver(ctx context.Context, id int64, chunks, media []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deliverErr[id]; err != nil {
		return err
	}
	f.deliveries = append(f.deliveries, delivery{to: id, chunks: chunks, media: media})
	return nil
}

func (f *fakeSender) deliveredTo(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.deliveries {
		if d.to == id {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store, *fakeFeed, *fakeSender) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	feed := &fakeFeed{
		walls:   map[int64][]vk.Post{},
		wallErr: map[int64]error{},
		groups:  map[string]vk.Group{},
	}
	sender := &fakeSender{
		reachErr:   map[int64]error{},
		deliverErr: map[int64]error{},
	}
	return New(store, feed, sender, zerolog.Nop()), store, feed, sender
}

func subscribe(t *testing.T, s *storage.Store, domain string, sourceID int64, users ...int64) {
	t.Helper()
	ctx := context.Background()
	if ok, _ := s.ChannelExists(ctx, domain); !ok {
		if err := s.CreateChannel(ctx, domain, sourceID, domain); err != nil {
			t.Fatalf("create channel: %v", err)
		}
	}
	for _, u := range users {
		if ok, _ := s.SubscriberExists(ctx, u); !ok {
			if err := s.CreateSubscriber(ctx, u); err != nil {
				t.Fatalf("create subscriber: %v", err)
			}
		}
		if err := s.Subscribe(ctx, domain, u); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
}

func TestPassDeliversAndAdvancesWatermarks(t *testing.T) {
	eng, store, feed, sender := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7, 8)
	feed.walls[42] = []vk.Post{{ID: 1, OwnerID: -42, Date: 100, Text: "fresh"}}

	updated, err := eng.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	for _, u := range []int64{7, 8} {
		if n := sender.deliveredTo(u); n != 1 {
			t.Fatalf("deliveries to %d = %d, want 1", u, n)
		}
		wm, err := store.SubscriptionWatermark(ctx, u, "eastwind")
		if err != nil {
			t.Fatalf("watermark: %v", err)
		}
		if wm != 100 {
			t.Fatalf("edge watermark = %d, want 100", wm)
		}
	}
	ch, err := store.GetChannel(ctx, "eastwind")
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if ch.Watermark != 100 {
		t.Fatalf("channel watermark = %d, want 100", ch.Watermark)
	}
}

func TestFreshnessGateShortCircuits(t *testing.T) {
	eng, store, feed, sender := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7)
	feed.walls[42] = []vk.Post{{ID: 1, OwnerID: -42, Date: 100, Text: "fresh"}}

	for i := 0; i < 2; i++ {
		if _, err := eng.RunPass(ctx); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	// Same representative timestamp on the second pass: no render, no send.
	if n := len(sender.deliveries); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}

func TestUnreachableSubscriberIsPruned(t *testing.T) {
	eng, store, feed, sender := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7, 8)
	feed.walls[42] = []vk.Post{{ID: 1, OwnerID: -42, Date: 100}}
	sender.deliverErr[7] = fmt.Errorf("%w: blocked", ErrUnreachable)

	if _, err := eng.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if _, err := store.GetSubscriber(ctx, 7); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pruned subscriber lookup: got %v, want ErrNotFound", err)
	}
	// The rest of the loop still ran.
	if n := sender.deliveredTo(8); n != 1 {
		t.Fatalf("deliveries to 8 = %d, want 1", n)
	}
}

func TestFailedProbePrunesWithoutContent(t *testing.T) {
	eng, store, feed, sender := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7)
	feed.walls[42] = []vk.Post{{ID: 1, OwnerID: -42, Date: 100}}
	sender.reachErr[7] = errors.New("getChat failed")

	if _, err := eng.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if n := sender.deliveredTo(7); n != 0 {
		t.Fatalf("content was attempted for unreachable chat: %d deliveries", n)
	}
	if _, err := store.GetSubscriber(ctx, 7); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("subscriber lookup: got %v, want ErrNotFound", err)
	}
}

func TestTransientFailureRetainsSubscriber(t *testing.T) {
	eng, store, feed, sender := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7)
	feed.walls[42] = []vk.Post{{ID: 1, OwnerID: -42, Date: 100}}
	sender.deliverErr[7] = errors.New("429 too many requests")

	if _, err := eng.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if _, err := store.GetSubscriber(ctx, 7); err != nil {
		t.Fatalf("subscriber should survive a transient failure: %v", err)
	}
	wm, err := store.SubscriptionWatermark(ctx, 7, "eastwind")
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if wm != 0 {
		t.Fatalf("edge watermark = %d, want 0 (not advanced)", wm)
	}
}

func TestOrphanedChannelIsReaped(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	if err := store.CreateChannel(ctx, "ghost", 42, "Ghost"); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	if _, err := eng.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	domains, err := store.ChannelDomains(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(domains) != 0 {
		t.Fatalf("orphan survived the pass: %v", domains)
	}
}

func TestCaughtUpMemberIsSkipped(t *testing.T) {
	eng, store, feed, sender := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7, 8)
	feed.walls[42] = []vk.Post{{ID: 1, OwnerID: -42, Date: 100}}
	// Subscriber 7 got this exact post synchronously at join time.
	if err := store.AdvanceWatermark(ctx, 7, "eastwind", 100); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := eng.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if n := sender.deliveredTo(7); n != 0 {
		t.Fatalf("already caught-up member got %d deliveries", n)
	}
	if n := sender.deliveredTo(8); n != 1 {
		t.Fatalf("lagging member got %d deliveries, want 1", n)
	}
}

func TestChannelFailureDoesNotAbortPass(t *testing.T) {
	eng, store, feed, sender := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "bad", 1, 7)
	subscribe(t, store, "good", 2, 7)
	feed.wallErr[1] = errors.New("wall unavailable")
	feed.walls[2] = []vk.Post{{ID: 1, OwnerID: -2, Date: 100}}

	updated, err := eng.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	if n := sender.deliveredTo(7); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}

func TestSendLatestPrefersPinned(t *testing.T) {
	eng, store, feed, _ := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7)
	feed.walls[42] = []vk.Post{
		{ID: 2, OwnerID: -42, Date: 100, Text: "latest"},
		{ID: 1, OwnerID: -42, Date: 90, Text: "pinned", Pinned: true},
	}

	ts, err := eng.SendLatest(ctx, "eastwind", 7, true)
	if err != nil {
		t.Fatalf("send latest: %v", err)
	}
	if ts != 90 {
		t.Fatalf("delivered ts = %d, want pinned 90", ts)
	}
	wm, err := store.SubscriptionWatermark(ctx, 7, "eastwind")
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if wm != 90 {
		t.Fatalf("edge watermark = %d, want 90 (not 100)", wm)
	}
}

func TestSendLatestFallsBackToNewest(t *testing.T) {
	eng, store, feed, _ := newTestEngine(t)
	ctx := context.Background()
	subscribe(t, store, "eastwind", 42, 7)
	feed.walls[42] = []vk.Post{
		{ID: 1, OwnerID: -42, Date: 80},
		{ID: 2, OwnerID: -42, Date: 100},
	}

	ts, err := eng.SendLatest(ctx, "eastwind", 7, true)
	if err != nil {
		t.Fatalf("send latest: %v", err)
	}
	if ts != 100 {
		t.Fatalf("delivered ts = %d, want 100", ts)
	}
}
