package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/stegline/core/internal/model"
)

// Broker is an in-process Feed and Publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*Pipe]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*Pipe]struct{})}
}

// Subscribe registers a pipe for conversationID.
func (b *Broker) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p *Pipe
	p = NewPipe(conversationID, func() error {
		b.mu.Lock()
		delete(b.subs[conversationID], p)
		if len(b.subs[conversationID]) == 0 {
			delete(b.subs, conversationID)
		}
		b.mu.Unlock()
		return nil
	})

	b.mu.Lock()
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[*Pipe]struct{})
	}
	b.subs[conversationID][p] = struct{}{}
	b.mu.Unlock()

	return p, nil
}

// Publish fans msg out to the conversation's subscribers.
func (b *Broker) Publish(ctx context.Context, msg *model.Message) error {
	b.Deliver(model.ChangeEvent{
		Type:           model.EventTypeMessageInserted,
		ConversationID: msg.ConversationID,
		Message:        *msg,
		PublishedAt:    time.Now(),
	})
	return nil
}

// Deliver pushes a raw event to the subscribers of its conversation.
func (b *Broker) Deliver(ev model.ChangeEvent) {
	b.mu.Lock()
	pipes := make([]*Pipe, 0, len(b.subs[ev.ConversationID]))
	for p := range b.subs[ev.ConversationID] {
		pipes = append(pipes, p)
	}
	b.mu.Unlock()

	for _, p := range pipes {
		p.Push(ev)
	}
}

// Subscribers returns the number of open subscriptions for conversationID.
func (b *Broker) Subscribers(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[conversationID])
}
