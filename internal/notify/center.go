// Package notify maintains the notification feed: reminders emitted by
// the scheduler plus externally raised invitations, updates, and
// announcements. Entries are created once and only their read flag is
// mutated afterwards; retention is an external policy.
package notify

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"roundcal/internal/clock"
	applog "roundcal/internal/log"
	"roundcal/internal/model"
)

// Filter selects which notifications List returns.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
	// FilterImportant selects high priority or action-required entries.
	FilterImportant Filter = "important"
)

// ParseFilter clamps an arbitrary string to a known filter.
func ParseFilter(s string) Filter {
	switch Filter(s) {
	case FilterUnread:
		return FilterUnread
	case FilterImportant:
		return FilterImportant
	default:
		return FilterAll
	}
}

// Center owns all notifications in the process.
type Center struct {
	mu      sync.RWMutex
	clk     clock.Clock
	entries map[string]*model.Notification
	subs    []chan model.Notification
}

// NewCenter creates an empty notification center.
func NewCenter(clk clock.Clock) *Center {
	return &Center{
		clk:     clk,
		entries: make(map[string]*model.Notification),
	}
}

// Raise appends a notification. A missing id gets a fresh UUID and a
// zero CreatedAt is stamped with the clock's current instant. Malformed
// priority or source kind is rejected at the boundary.
func (c *Center) Raise(n model.Notification) (model.Notification, error) {
	if err := n.Validate(); err != nil {
		return model.Notification{}, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.clk.Now()
	}

	c.mu.Lock()
	stored := n
	c.entries[n.ID] = &stored
	subs := make([]chan model.Notification, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- n:
		default:
			// Slow subscriber; drop rather than block the raiser.
			applog.Debug("notify: subscriber buffer full, dropping push", "id", n.ID)
		}
	}
	return n, nil
}

// MarkRead acknowledges one notification. Already-read entries and
// unknown ids are no-ops.
func (c *Center) MarkRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[id]; ok {
		n.Read = true
	}
}

// MarkAllRead acknowledges every currently held notification.
func (c *Center) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.entries {
		n.Read = true
	}
}

// List returns notifications matching the filter, most recent first.
// Equal timestamps are ordered by id for determinism.
func (c *Center) List(f Filter) []model.Notification {
	c.mu.RLock()
	out := make([]model.Notification, 0, len(c.entries))
	for _, n := range c.entries {
		if !matches(*n, f) {
			continue
		}
		out = append(out, *n)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UnreadCount returns the number of unread notifications.
func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, n := range c.entries {
		if !n.Read {
			count++
		}
	}
	return count
}

// Subscribe returns a channel receiving every subsequently raised
// notification. Pushes to a full channel are dropped, so consumers
// should drain promptly and treat List as the source of truth.
func (c *Center) Subscribe() <-chan model.Notification {
	ch := make(chan model.Notification, 16)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel obtained from Subscribe. The channel is
// never closed: Raise sends outside the lock, so a close here could
// interleave with an in-flight send and panic the raiser. Consumers
// must stop receiving on their own (the websocket handler uses its read
// loop for that).
func (c *Center) Unsubscribe(ch <-chan model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

func matches(n model.Notification, f Filter) bool {
	switch f {
	case FilterUnread:
		return !n.Read
	case FilterImportant:
		return n.Priority == model.PriorityHigh || n.ActionRequired
	default:
		return true
	}
}
