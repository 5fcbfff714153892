package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/subscription"
)

type sseEvent struct {
	name string
	data string
}

func readEvents(sc *bufio.Scanner, out chan<- sseEvent) {
	defer close(out)
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			out <- ev
			ev = sseEvent{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("stream ended")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream event")
	}
	return sseEvent{}
}

func waitHandle(t *testing.T, transport *fakeTransport) *streamHandle {
	t.Helper()
	select {
	case h := <-transport.opened:
		return h
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not opened")
	}
	return nil
}

func openStream(t *testing.T, handler echo.HandlerFunc) (<-chan sseEvent, context.CancelFunc) {
	t.Helper()
	e := echo.New()
	e.GET("/api/projects/:project/stream", func(c echo.Context) error {
		c.Set(userKey, "user-1")
		return handler(c)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/projects/p1/stream", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := make(chan sseEvent, 16)
	go readEvents(bufio.NewScanner(resp.Body), events)
	return events, cancel
}

func boardsFor(t *testing.T) Boards {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := board.NewHub(newFakeStore(task("A", "todo", 0)), nil, board.HubOptions{Controller: board.Options{Logger: logger}})
	t.Cleanup(hub.Close)
	return hub
}

func TestStreamSendsSnapshotAndChanges(t *testing.T) {
	transport := newFakeTransport()
	logger, _ := test.NewNullLogger()
	events, cancel := openStream(t, streamChanges(boardsFor(t), transport, logger))
	defer cancel()

	h := waitHandle(t, transport)
	snap := nextEvent(t, events)
	if snap.name != "snapshot" || !strings.Contains(snap.data, `"id":"A"`) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	inserted := task("B", "todo", 1)
	h.onEvent(domain.ChangeEvent{Type: domain.ChangeInsert, Entity: domain.EntityTask, ProjectID: "p1", EntityID: "B", Task: &inserted})
	h.onEvent(domain.ChangeEvent{Type: domain.ChangeInsert, Entity: domain.EntityTask, ProjectID: "p2", EntityID: "X"})
	h.onEvent(domain.ChangeEvent{Type: domain.ChangeUpdate, Entity: domain.EntityColumn, ProjectID: "p1", EntityID: "todo"})

	ev := nextEvent(t, events)
	if ev.name != string(subscription.ItemInserted) || !strings.Contains(ev.data, `"entityId":"B"`) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	ev = nextEvent(t, events)
	if ev.name != string(subscription.AuxChanged) {
		t.Fatalf("expected auxiliary change, got %+v", ev)
	}
}

func TestStreamClosesSubscriptionOnDisconnect(t *testing.T) {
	transport := newFakeTransport()
	logger, _ := test.NewNullLogger()
	events, cancel := openStream(t, streamChanges(boardsFor(t), transport, logger))

	h := waitHandle(t, transport)
	nextEvent(t, events)
	cancel()

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not closed after disconnect")
	}
}

func TestStreamAsksForResyncWhenFeedIsLost(t *testing.T) {
	transport := newFakeTransport()
	logger, _ := test.NewNullLogger()
	events, cancel := openStream(t, streamWithHeartbeat(boardsFor(t), transport, logger, 10*time.Millisecond))
	defer cancel()

	h := waitHandle(t, transport)
	nextEvent(t, events)
	h.onStatus(subscription.StatusError, nil)

	if ev := nextEvent(t, events); ev.name != "resync" {
		t.Fatalf("expected resync, got %+v", ev)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected stream to end after resync")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end")
	}
}
