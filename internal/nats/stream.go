package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/stegline/core/internal/changefeed"
	"github.com/stegline/core/internal/model"
)

const (
	// StreamName is the name of the message events stream.
	StreamName = "STEGO"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "stego"
)

// Feed publishes and consumes message inserted events over JetStream.
type Feed struct {
	client *Client
}

var (
	_ changefeed.Feed      = (*Feed)(nil)
	_ changefeed.Publisher = (*Feed)(nil)
)

// NewFeed creates a JetStream backed change feed.
func NewFeed(client *Client) *Feed {
	return &Feed{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
// The store is the source of record, so the stream only keeps a short tail.
func (f *Feed) EnsureStream(ctx context.Context) error {
	js := f.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		Description: "Message inserted events per conversation",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// InsertedSubject returns the subject for message inserted events.
func InsertedSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg.inserted", SubjectPrefix, conversationID)
}

// Publish announces a committed message. The message id doubles as the
// JetStream dedup id so retried publishes are not delivered twice.
func (f *Feed) Publish(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(model.ChangeEvent{
		Type:           model.EventTypeMessageInserted,
		ConversationID: msg.ConversationID,
		Message:        *msg,
		PublishedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.client.JetStream().Publish(ctx, InsertedSubject(msg.ConversationID), data, jetstream.WithMsgID(msg.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe opens an ordered consumer that delivers events published from now on.
func (f *Feed) Subscribe(ctx context.Context, conversationID string) (changefeed.Subscription, error) {
	cons, err := f.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{InsertedSubject(conversationID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	guard := &consumeGuard{}
	pipe := changefeed.NewPipe(conversationID, guard.stop)

	log := f.client.logger.With(zap.String("conversation_id", conversationID))
	cc, err := cons.Consume(func(m jetstream.Msg) {
		var ev model.ChangeEvent
		if err := json.Unmarshal(m.Data(), &ev); err != nil {
			log.Warn("Dropping malformed change event", zap.Error(err))
			return
		}
		if ev.ConversationID != conversationID {
			return
		}
		pipe.Push(ev)
	})
	if err != nil {
		pipe.Close()
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	guard.set(cc)

	return pipe, nil
}

type stopper interface {
	Stop()
}

// consumeGuard stops a consumer exactly once, even when the subscription is
// closed before Consume has returned.
type consumeGuard struct {
	mu      sync.Mutex
	cc      stopper
	stopped bool
}

func (g *consumeGuard) set(cc stopper) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		cc.Stop()
		return
	}
	g.cc = cc
}

func (g *consumeGuard) stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if g.cc != nil {
		g.cc.Stop()
		g.cc = nil
	}
	return nil
}
