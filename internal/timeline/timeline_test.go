package timeline_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stegline/core/internal/changefeed"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/timeline"
	"github.com/stegline/core/pkg/logger"
)

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func msg(conv, id string, offset int) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		Kind:           model.KindText,
		CreatedAt:      base.Add(time.Duration(offset) * time.Second),
	}
}

type fakeLoader struct {
	mu      sync.Mutex
	msgs    map[string][]model.Message
	started chan struct{}
	release chan struct{}
}

func (l *fakeLoader) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if l.started != nil {
		l.started <- struct{}{}
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Message(nil), l.msgs[conversationID]...), nil
}

func ids(msgs []model.Message) string {
	var s string
	for _, m := range msgs {
		s += m.ID
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoadThenDuplicateInsert(t *testing.T) {
	loader := &fakeLoader{msgs: map[string][]model.Message{
		"c1": {msg("c1", "a", 0), msg("c1", "b", 1)},
	}}
	tl := timeline.New(loader, nil, logger.NewNop())

	if err := tl.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("Open err: %v", err)
	}

	if tl.OnRemoteInsert(msg("c1", "b", 1)) {
		t.Fatal("duplicate id must be dropped")
	}
	if !tl.OnRemoteInsert(msg("c1", "c", 2)) {
		t.Fatal("new id must be merged")
	}

	if got := ids(tl.Messages()); got != "abc" {
		t.Fatalf("unexpected timeline: got %s want abc", got)
	}
}

func TestInsertDuringLoad(t *testing.T) {
	loader := &fakeLoader{
		msgs: map[string][]model.Message{
			"c1": {msg("c1", "a", 0), msg("c1", "b", 2)},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	tl := timeline.New(loader, nil, logger.NewNop())

	done := make(chan error, 1)
	go func() { done <- tl.Open(context.Background(), "c1") }()

	<-loader.started
	if !tl.Loading() {
		t.Fatal("expected loading flag during fetch")
	}

	// b arrives live before the load that also contains it resolves; x is
	// newer than the fetch.
	tl.OnRemoteInsert(msg("c1", "b", 2))
	tl.OnRemoteInsert(msg("c1", "x", 1))
	close(loader.release)

	if err := <-done; err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if tl.Loading() {
		t.Fatal("loading flag not cleared")
	}
	if got := ids(tl.Messages()); got != "axb" {
		t.Fatalf("unexpected timeline: got %s want axb", got)
	}
}

func TestMergeProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		var stored []model.Message
		want := make(map[string]bool)
		for i := 0; i < rng.Intn(10); i++ {
			m := msg("c1", fmt.Sprintf("s%02d", i), rng.Intn(50))
			stored = append(stored, m)
			want[m.ID] = true
		}

		loader := &fakeLoader{msgs: map[string][]model.Message{"c1": stored}}
		tl := timeline.New(loader, nil, logger.NewNop())
		if err := tl.Open(context.Background(), "c1"); err != nil {
			t.Fatalf("Open err: %v", err)
		}

		for i := 0; i < rng.Intn(20); i++ {
			var m model.Message
			if len(stored) > 0 && rng.Intn(2) == 0 {
				m = stored[rng.Intn(len(stored))]
			} else {
				m = msg("c1", fmt.Sprintf("l%02d", rng.Intn(8)), rng.Intn(50))
			}
			want[m.ID] = true
			tl.OnRemoteInsert(m)
		}

		got := tl.Messages()
		if len(got) != len(want) {
			t.Fatalf("round %d: got %d messages want %d", round, len(got), len(want))
		}
		seen := make(map[string]bool)
		for i, m := range got {
			if seen[m.ID] {
				t.Fatalf("round %d: duplicate id %s", round, m.ID)
			}
			seen[m.ID] = true
			if i > 0 && m.Before(&got[i-1]) {
				t.Fatalf("round %d: timeline not sorted at %d", round, i)
			}
		}
	}
}

func TestLiveFeedEitherOrder(t *testing.T) {
	broker := changefeed.NewBroker()
	loader := &fakeLoader{msgs: map[string][]model.Message{
		"c1": {msg("c1", "a", 0)},
	}}

	var mu sync.Mutex
	var inserted []string
	tl := timeline.New(loader, broker, logger.NewNop(), timeline.WithOnInsert(func(m model.Message) {
		mu.Lock()
		inserted = append(inserted, m.ID)
		mu.Unlock()
	}))
	defer tl.Close()

	if err := tl.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("Open err: %v", err)
	}

	a := msg("c1", "a", 0)
	b := msg("c1", "b", 1)
	broker.Publish(context.Background(), &a)
	broker.Publish(context.Background(), &b)

	waitFor(t, func() bool { return tl.Contains("b") })

	if got := ids(tl.Messages()); got != "ab" {
		t.Fatalf("unexpected timeline: got %s want ab", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(inserted) != 1 || inserted[0] != "b" {
		t.Fatalf("unexpected insert callbacks: %v", inserted)
	}
}

func TestSwitchIgnoresStaleEvents(t *testing.T) {
	broker := changefeed.NewBroker()
	loader := &fakeLoader{msgs: map[string][]model.Message{
		"c1": {msg("c1", "a", 0)},
		"c2": {msg("c2", "z", 0)},
	}}
	tl := timeline.New(loader, broker, logger.NewNop())
	defer tl.Close()

	ctx := context.Background()
	if err := tl.Open(ctx, "c1"); err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if err := tl.Open(ctx, "c2"); err != nil {
		t.Fatalf("Open err: %v", err)
	}

	if n := broker.Subscribers("c1"); n != 0 {
		t.Fatalf("previous subscription not released: %d", n)
	}

	if tl.OnRemoteInsert(msg("c1", "late", 5)) {
		t.Fatal("stale event for previous conversation applied")
	}

	late := msg("c1", "late", 5)
	broker.Publish(ctx, &late)
	fresh := msg("c2", "y", 1)
	broker.Publish(ctx, &fresh)

	waitFor(t, func() bool { return tl.Contains("y") })
	if got := ids(tl.Messages()); got != "zy" {
		t.Fatalf("unexpected timeline: got %s want zy", got)
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	broker := changefeed.NewBroker()
	tl := timeline.New(&fakeLoader{}, broker, logger.NewNop())

	if err := tl.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if n := broker.Subscribers("c1"); n != 0 {
		t.Fatalf("subscription not released: %d", n)
	}
	if tl.ConversationID() != "" || len(tl.Messages()) != 0 {
		t.Fatal("timeline not cleared")
	}
	if err := tl.Load(context.Background()); err == nil {
		t.Fatal("expected Load on closed timeline to fail")
	}
}
