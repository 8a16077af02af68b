// Package storage persists the subscriber/channel graph.
//
// Three relations: subscribers, channels, and subscription edges. Channels
// and edges each carry a watermark — the unix timestamp of the newest post
// already broadcast (channel) or delivered to that subscriber (edge). The
// watermark is the sole deduplication signal across sync passes.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced subscriber, channel, or
	// subscription edge does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrExists is returned on duplicate creation.
	ErrExists = errors.New("storage: already exists")
	// ErrHasMembers is returned when deleting a channel that still has
	// subscribers. Only orphaned channels may be deleted.
	ErrHasMembers = errors.New("storage: channel has members")
)

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Channel is a tracked VK group wall, keyed by its short name (domain).
type Channel struct {
	Domain    string
	SourceID  int64
	Title     string
	Watermark int64
	Members   []int64
}

// Subscriber is a Telegram user together with its subscription edges.
type Subscriber struct {
	ID            int64
	Subscriptions []Subscription
}

// Subscription is one subscriber-to-channel edge with its own watermark.
type Subscription struct {
	Domain    string
	Watermark int64
}
