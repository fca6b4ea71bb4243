package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stegline/core/internal/handler"
	"github.com/stegline/core/internal/model"
)

type sse struct {
	event string
	data  string
}

func readEvents(t *testing.T, resp *http.Response) <-chan sse {
	t.Helper()
	out := make(chan sse, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		var ev sse
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "":
				out <- ev
				ev = sse{}
			}
		}
	}()
	return out
}

func next(t *testing.T, events <-chan sse, skip ...string) sse {
	t.Helper()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream ended")
			}
			skipped := false
			for _, s := range skip {
				if ev.event == s {
					skipped = true
				}
			}
			if !skipped {
				return ev
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestStreamSnapshotThenLiveInserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _ := f.directory.ResolveOrCreate(ctx, "alice", "bob", nil)
	first, err := f.delivery.SendText(ctx, "alice", conv.ID, "before")
	if err != nil {
		t.Fatalf("SendText err: %v", err)
	}

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/api/v1/conversations/"+conv.ID+"/stream", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "bob"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	events := readEvents(t, resp)
	if ev := next(t, events); ev.event != "connected" {
		t.Fatalf("unexpected first event: %s", ev.event)
	}

	ev := next(t, events, "heartbeat")
	if ev.event != "snapshot" {
		t.Fatalf("unexpected event: got %s want snapshot", ev.event)
	}
	var snap handler.SnapshotEvent
	if err := json.Unmarshal([]byte(ev.data), &snap); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].ID != first.ID {
		t.Fatalf("unexpected snapshot: %+v", snap.Messages)
	}

	// The broker registers the subscription before the load, so this insert
	// is delivered live.
	deadline := time.Now().Add(2 * time.Second)
	for f.broker.Subscribers(conv.ID) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	second, err := f.delivery.SendText(ctx, "bob", conv.ID, "after")
	if err != nil {
		t.Fatalf("SendText err: %v", err)
	}

	ev = next(t, events, "heartbeat")
	if ev.event != "message" {
		t.Fatalf("unexpected event: got %s want message", ev.event)
	}
	var msg model.Message
	if err := json.Unmarshal([]byte(ev.data), &msg); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if msg.ID != second.ID {
		t.Fatalf("unexpected live message: got %s want %s", msg.ID, second.ID)
	}

	// Redelivery of the same id is suppressed.
	f.broker.Publish(ctx, second)
	third, _ := f.delivery.SendText(ctx, "alice", conv.ID, "third")
	ev = next(t, events, "heartbeat")
	json.Unmarshal([]byte(ev.data), &msg)
	if msg.ID != third.ID {
		t.Fatalf("duplicate delivered: got %s want %s", msg.ID, third.ID)
	}
}

func TestStreamRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)
	conv, _ := f.directory.ResolveOrCreate(context.Background(), "alice", "bob", nil)

	rec := f.do(t, "carol", http.MethodGet, "/api/v1/conversations/"+conv.ID+"/stream", nil)
	expectStatus(t, rec, http.StatusForbidden)
	if n := f.broker.Subscribers(conv.ID); n != 0 {
		t.Fatalf("rejected stream left a subscription: %d", n)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestReady(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{"store": pinger{}})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	expectStatus(t, rec, http.StatusOK)

	h = handler.NewHealthHandler(map[string]handler.Pinger{
		"store": pinger{},
		"nats":  pinger{err: errors.New("connection closed")},
	})
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["reason"] != "nats unavailable" {
		t.Fatalf("unexpected reason: %s", body["reason"])
	}
}
