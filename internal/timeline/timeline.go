// Package timeline keeps the ordered, deduplicated message list of the open
// conversation.
//
// Two sources feed a Timeline: the bulk Load from the store and live inserts
// from the change feed. Either may deliver a message first. A message id is
// kept at most once and the list is always sorted by creation time, so the
// result is the same whichever order the sources resolve in.
package timeline

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/stegline/core/internal/changefeed"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/pkg/logger"
	"github.com/stegline/core/pkg/metrics"
)

// Loader fetches the stored messages of a conversation in ascending order.
type Loader interface {
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithOnInsert registers a callback for every message merged from the feed.
func WithOnInsert(fn func(model.Message)) Option {
	return func(t *Timeline) { t.onInsert = fn }
}

// WithOnReload registers a callback receiving the full list after each load.
func WithOnReload(fn func([]model.Message)) Option {
	return func(t *Timeline) { t.onReload = fn }
}

// Timeline is safe for concurrent use.
type Timeline struct {
	loader Loader
	feed   changefeed.Feed
	logger *logger.Logger

	onInsert func(model.Message)
	onReload func([]model.Message)

	// notifyMu orders callbacks the same way state changes were applied.
	notifyMu sync.Mutex

	mu             sync.Mutex
	conversationID string
	generation     uint64
	sub            changefeed.Subscription
	messages       []model.Message
	ids            map[string]struct{}
	loading        bool
	loadSeq        uint64
	arrived        []model.Message
}

// New creates a closed timeline.
func New(loader Loader, feed changefeed.Feed, log *logger.Logger, opts ...Option) *Timeline {
	t := &Timeline{
		loader: loader,
		feed:   feed,
		logger: log.Named("timeline"),
		ids:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open switches the timeline to conversationID. The previous subscription is
// released first and anything it still delivers is ignored. The live
// subscription is established before the bulk load so no insert falls in
// between.
func (t *Timeline) Open(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	prev := t.sub
	t.generation++
	gen := t.generation
	t.conversationID = conversationID
	t.sub = nil
	t.messages = nil
	t.ids = make(map[string]struct{})
	t.arrived = nil
	t.loading = false
	t.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	if t.feed != nil {
		sub, err := t.feed.Subscribe(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}

		t.mu.Lock()
		if t.generation != gen {
			t.mu.Unlock()
			sub.Close()
			return nil
		}
		t.sub = sub
		t.mu.Unlock()

		go t.consume(gen, sub)
	}

	return t.Load(ctx)
}

func (t *Timeline) consume(gen uint64, sub changefeed.Subscription) {
	for ev := range sub.Events() {
		if ev.Type != model.EventTypeMessageInserted {
			continue
		}
		t.insert(gen, ev.Message)
	}
}

// Load fetches the stored messages of the open conversation and replaces the
// current list with them. Live inserts that arrive while the fetch is in
// flight are kept. A load superseded by a newer load or a conversation switch
// is discarded.
func (t *Timeline) Load(ctx context.Context) error {
	t.mu.Lock()
	if t.conversationID == "" {
		t.mu.Unlock()
		return fmt.Errorf("no conversation open")
	}
	convID := t.conversationID
	gen := t.generation
	t.loadSeq++
	seq := t.loadSeq
	t.loading = true
	t.arrived = nil
	t.mu.Unlock()

	fetched, err := t.loader.ListMessages(ctx, convID)

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.generation != gen || t.loadSeq != seq {
		t.mu.Unlock()
		return nil
	}
	t.loading = false
	if err != nil {
		t.arrived = nil
		t.mu.Unlock()
		return fmt.Errorf("failed to load messages: %w", err)
	}

	merged := make([]model.Message, 0, len(fetched)+len(t.arrived))
	ids := make(map[string]struct{}, cap(merged))
	for _, src := range [][]model.Message{fetched, t.arrived} {
		for _, m := range src {
			if m.ConversationID != "" && m.ConversationID != convID {
				continue
			}
			if _, dup := ids[m.ID]; dup {
				continue
			}
			ids[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}
	slices.SortStableFunc(merged, compare)

	t.messages = merged
	t.ids = ids
	t.arrived = nil
	snapshot := slices.Clone(merged)
	t.mu.Unlock()

	t.logger.Debug("Timeline loaded",
		zap.String("conversation_id", convID),
		zap.Int("count", len(snapshot)),
	)

	if t.onReload != nil {
		t.onReload(snapshot)
	}
	return nil
}

// OnRemoteInsert merges a message delivered outside the subscription owned by
// the timeline. It reports whether the message was added.
func (t *Timeline) OnRemoteInsert(msg model.Message) bool {
	t.mu.Lock()
	gen := t.generation
	t.mu.Unlock()
	return t.insert(gen, msg)
}

func (t *Timeline) insert(gen uint64, msg model.Message) bool {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if gen != t.generation || msg.ConversationID != t.conversationID {
		t.mu.Unlock()
		metrics.RecordTimelineEvent("stale")
		return false
	}
	if t.loading {
		t.arrived = append(t.arrived, msg)
	}
	if _, dup := t.ids[msg.ID]; dup {
		t.mu.Unlock()
		metrics.RecordTimelineEvent("duplicate")
		return false
	}

	i, _ := slices.BinarySearchFunc(t.messages, msg, compare)
	t.messages = slices.Insert(t.messages, i, msg)
	t.ids[msg.ID] = struct{}{}
	t.mu.Unlock()

	metrics.RecordTimelineEvent("inserted")
	if t.onInsert != nil {
		t.onInsert(msg)
	}
	return true
}

// Close releases the subscription and clears the timeline.
func (t *Timeline) Close() error {
	t.mu.Lock()
	sub := t.sub
	t.generation++
	t.conversationID = ""
	t.sub = nil
	t.messages = nil
	t.ids = make(map[string]struct{})
	t.arrived = nil
	t.loading = false
	t.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

// ConversationID returns the open conversation, or "" when closed.
func (t *Timeline) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// Messages returns a copy of the current list.
func (t *Timeline) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Loading reports whether a bulk load is in flight.
func (t *Timeline) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Contains reports whether a message id is present.
func (t *Timeline) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

func compare(a, b model.Message) int {
	switch {
	case a.Before(&b):
		return -1
	case b.Before(&a):
		return 1
	}
	return 0
}
