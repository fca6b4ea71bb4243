// Package changefeed delivers "message inserted" events scoped to one
// conversation.
//
// A Subscription is a lazy, unbounded sequence of events in arrival order. It
// holds a resource (a broker registration or a JetStream consumer) that is
// released by Close. Subscribing again restarts the sequence from the events
// published after the new subscription was established; there is no ordering
// guarantee relative to a bulk load of the same conversation.
package changefeed

import (
	"context"
	"sync"

	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/pkg/metrics"
)

// Feed opens subscriptions for a conversation.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
}

// Publisher announces committed messages.
type Publisher interface {
	Publish(ctx context.Context, msg *model.Message) error
}

// Subscription is an open event stream for one conversation.
type Subscription interface {
	ConversationID() string

	// Events is closed after Close.
	Events() <-chan model.ChangeEvent

	// Close releases the subscription. It is safe to call more than once.
	Close() error
}

// Pipe is a Subscription backed by an unbounded in-memory queue. Producers
// call Push; a pump goroutine hands events to Events in order.
type Pipe struct {
	conversationID string
	release        func() error

	mu     sync.Mutex
	queue  []model.ChangeEvent
	notify chan struct{}
	out    chan model.ChangeEvent
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewPipe creates a running pipe. release is invoked once on Close.
func NewPipe(conversationID string, release func() error) *Pipe {
	p := &Pipe{
		conversationID: conversationID,
		release:        release,
		notify:         make(chan struct{}, 1),
		out:            make(chan model.ChangeEvent),
		done:           make(chan struct{}),
	}
	metrics.FeedSubscriptionsActive.Inc()
	go p.pump()
	return p
}

// ConversationID returns the conversation the pipe is scoped to.
func (p *Pipe) ConversationID() string { return p.conversationID }

// Events returns the delivery channel.
func (p *Pipe) Events() <-chan model.ChangeEvent { return p.out }

// Push enqueues an event. Events pushed after Close are dropped.
func (p *Pipe) Push(ev model.ChangeEvent) {
	select {
	case <-p.done:
		return
	default:
	}

	p.mu.Lock()
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Close stops delivery and releases the underlying resource.
func (p *Pipe) Close() error {
	p.once.Do(func() {
		close(p.done)
		metrics.FeedSubscriptionsActive.Dec()
		if p.release != nil {
			p.err = p.release()
		}
	})
	return p.err
}

func (p *Pipe) pump() {
	defer close(p.out)

	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.notify:
				continue
			case <-p.done:
				return
			}
		}
		ev := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		select {
		case p.out <- ev:
		case <-p.done:
			return
		}
	}
}
