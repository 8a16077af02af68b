// Package engine drives incremental synchronization: one pass walks every
// tracked channel, decides per subscriber whether the newest post is new
// enough to deliver, delivers it, and advances watermarks only after a
// confirmed send. Permanently unreachable subscribers and orphaned channels
// are pruned along the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"repostbot/internal/post"
	"repostbot/internal/storage"
	"repostbot/internal/vk"
)

// ErrUnreachable marks a delivery target that is permanently gone (bot
// blocked, chat deleted). It triggers subscriber pruning and is never
// retried.
var ErrUnreachable = errors.New("engine: recipient unreachable")

// Feed fetches wall content. Transient network failures are retried inside
// the client and are opaque here.
type Feed interface {
	RecentPosts(ctx context.Context, sourceID int64, count int) ([]vk.Post, error)
	GroupInfo(ctx context.Context, query string) (vk.Group, error)
}

// Sender delivers a rendered chunk sequence to one Telegram recipient.
type Sender interface {
	// Reachable probes that a chat with the subscriber still exists.
	// Returns ErrUnreachable when it is permanently gone.
	Reachable(ctx context.Context, subscriberID int64) error
	// Deliver sends the chunks in order. Media rides on the first chunk:
	// one photo as a captioned photo message, several as an album with the
	// caption on the first item.
	Deliver(ctx context.Context, subscriberID int64, chunks []string, media []string) error
}

type Engine struct {
	store  *storage.Store
	feed   Feed
	sender Sender
	log    zerolog.Logger

	batchSize int

	// channelTimeout bounds a single channel's fetch+deliver work so one
	// stalled upstream call cannot wedge the whole pass.
	channelTimeout time.Duration

	// runMu serializes passes: the scheduled loop and the admin's manual
	// "check now" must never overlap.
	runMu sync.Mutex

	passes     atomic.Uint64
	broadcasts atomic.Uint64
}

type Option func(*Engine)

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n >= 2 {
			e.batchSize = n
		}
	}
}

func WithChannelTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.channelTimeout = d
		}
	}
}

func New(store *storage.Store, feed Feed, sender Sender, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		feed:           feed,
		sender:         sender,
		log:            log,
		batchSize:      4,
		channelTimeout: 2 * time.Minute,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunPass performs one full synchronization pass over all channels and
// returns how many of them had genuinely new content broadcast. Failures are
// channel-local: a bad channel is logged and the pass continues.
func (e *Engine) RunPass(ctx context.Context) (int, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	start := time.Now()
	domains, err := e.store.ChannelDomains(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, domain := range domains {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		cctx, cancel := context.WithTimeout(ctx, e.channelTimeout)
		broadcast, err := e.syncChannel(cctx, domain)
		cancel()
		if err != nil {
			e.log.Warn().Err(err).Str("channel", domain).Msg("channel sync failed, continuing pass")
			continue
		}
		if broadcast {
			updated++
		}
	}

	e.passes.Add(1)
	e.broadcasts.Add(uint64(updated))
	e.log.Info().
		Int("channels", len(domains)).
		Int("updated", updated).
		Dur("took", time.Since(start)).
		Msg("pass finished")
	return updated, nil
}

// syncChannel runs steps 1-6 of the pass for one channel. The returned bool
// reports whether new content was broadcast (the freshness gate did not
// trigger).
func (e *Engine) syncChannel(ctx context.Context, domain string) (bool, error) {
	ch, err := e.store.GetChannel(ctx, domain)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted since the snapshot was taken.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Orphan reap: a channel emptied by earlier pruning is deleted instead
	// of being synced.
	if len(ch.Members) == 0 {
		if err := e.store.DeleteChannel(ctx, domain); err != nil {
			return false, fmt.Errorf("reap orphan: %w", err)
		}
		e.log.Info().Str("channel", domain).Msg("orphaned channel removed")
		return false, nil
	}

	rep, info, err := e.representative(ctx, ch, false)
	if err != nil {
		return false, err
	}

	// Freshness gate: nothing newer than what every subscriber already got.
	if rep.Date <= ch.Watermark {
		return false, nil
	}

	// Render once per channel; the content is identical for every member.
	rendered := post.Render(rep, info.Name)
	chunks := rendered.Chunks()

	for _, member := range ch.Members {
		e.deliverToMember(ctx, domain, member, rep.Date, chunks, rendered.Media)
	}

	// The channel watermark advances once, after the member loop, no matter
	// how individual deliveries went. Lagging members are tracked by their
	// own edge watermarks.
	if err := e.store.UpdateChannel(ctx, domain, rep.Date, info.Name); err != nil {
		return true, fmt.Errorf("advance channel watermark: %w", err)
	}
	return true, nil
}

func (e *Engine) deliverToMember(ctx context.Context, domain string, member int64, ts int64, chunks, media []string) {
	wm, err := e.store.SubscriptionWatermark(ctx, member, domain)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		e.log.Error().Err(err).Int64("subscriber", member).Str("channel", domain).Msg("watermark lookup failed")
		return
	}
	// A member who joined mid-cycle already received this exact post
	// synchronously at join time.
	if wm >= ts {
		return
	}

	// A failed existence probe, whatever the cause, means no content is
	// attempted and the subscriber goes.
	if err := e.sender.Reachable(ctx, member); err != nil {
		e.prune(ctx, member, "chat gone")
		return
	}

	if err := e.sender.Deliver(ctx, member, chunks, media); err != nil {
		if errors.Is(err, ErrUnreachable) {
			e.prune(ctx, member, "blocked")
			return
		}
		// Transient: watermark stays put, the post is still "new" next cycle.
		e.log.Warn().Err(err).Int64("subscriber", member).Str("channel", domain).Msg("delivery failed, will retry next pass")
		return
	}

	if err := e.store.AdvanceWatermark(ctx, member, domain, ts); err != nil {
		e.log.Error().Err(err).Int64("subscriber", member).Str("channel", domain).Msg("watermark advance failed")
	}
}

// SendLatest delivers the channel's pinned-or-latest post to a single
// subscriber and advances that one edge watermark. It backs the subscribe
// flow, so a fresh subscriber never receives the historical backlog on the
// next scheduled pass. Returns the delivered post's timestamp.
func (e *Engine) SendLatest(ctx context.Context, domain string, subscriberID int64, preferPinned bool) (int64, error) {
	ch, err := e.store.GetChannel(ctx, domain)
	if err != nil {
		return 0, err
	}
	rep, info, err := e.representative(ctx, ch, preferPinned)
	if err != nil {
		return 0, err
	}

	rendered := post.Render(rep, info.Name)
	if err := e.sender.Deliver(ctx, subscriberID, rendered.Chunks(), rendered.Media); err != nil {
		return 0, err
	}
	if err := e.store.AdvanceWatermark(ctx, subscriberID, domain, rep.Date); err != nil {
		return 0, err
	}
	return rep.Date, nil
}

// Prune removes a subscriber and all of its edges. Exposed for the sender's
// conversational layer; the engine itself prunes on permanent delivery
// failure.
func (e *Engine) Prune(ctx context.Context, subscriberID int64) error {
	return e.store.DeleteSubscriber(ctx, subscriberID)
}

func (e *Engine) prune(ctx context.Context, subscriberID int64, why string) {
	if err := e.store.DeleteSubscriber(ctx, subscriberID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.log.Error().Err(err).Int64("subscriber", subscriberID).Msg("prune failed")
		return
	}
	e.log.Warn().Int64("subscriber", subscriberID).Str("reason", why).Msg("subscriber pruned")
}

// representative picks the single post that stands for "latest content":
// max-timestamp, or the pinned post when preferPinned is set and one exists
// in the batch. Group metadata is fetched alongside for the display name.
func (e *Engine) representative(ctx context.Context, ch storage.Channel, preferPinned bool) (vk.Post, vk.Group, error) {
	posts, err := e.feed.RecentPosts(ctx, ch.SourceID, e.batchSize)
	if err != nil {
		return vk.Post{}, vk.Group{}, fmt.Errorf("fetch wall: %w", err)
	}
	if len(posts) == 0 {
		return vk.Post{}, vk.Group{}, fmt.Errorf("channel %q: empty wall", ch.Domain)
	}

	rep := posts[0]
	for _, p := range posts[1:] {
		if p.Date > rep.Date {
			rep = p
		}
	}
	if preferPinned {
		for _, p := range posts {
			if p.Pinned {
				rep = p
				break
			}
		}
	}

	info, err := e.feed.GroupInfo(ctx, ch.Domain)
	if err != nil {
		return vk.Post{}, vk.Group{}, fmt.Errorf("fetch group info: %w", err)
	}
	return rep, info, nil
}

// Stats are cumulative process-lifetime counters, used by the admin digest.
type Stats struct {
	Passes     uint64
	Broadcasts uint64
}

func (e *Engine) Stats() Stats {
	return Stats{Passes: e.passes.Load(), Broadcasts: e.broadcasts.Load()}
}
