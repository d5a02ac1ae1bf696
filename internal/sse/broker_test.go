package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/harmonia/internal/eventstore"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "chart.created", Data: map[string]string{"path": "a.yaml"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: chart.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.yaml"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishProgress_Throttle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First report per type goes out, the immediate second is throttled.
	b.PublishProgress("transit:a.yaml", map[string]int{"pending": 3})
	b.PublishProgress("transit:a.yaml", map[string]int{"pending": 2})
	b.PublishProgress("pattern:b.yaml", map[string]int{"pending": 1})
	b.PublishChartEvent("created", "a.yaml")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	progressCount := 0
	chartCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, "event: search.progress"):
				progressCount++
			case strings.Contains(s, "event: chart.created"):
				chartCount++
			}
		default:
			break loop
		}
	}

	if progressCount != 2 {
		t.Errorf("progress events = %d, want 2 (one per type)", progressCount)
	}
	if chartCount != 1 {
		t.Errorf("chart events = %d, want 1", chartCount)
	}
}

func TestPublishNotification(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNotification(eventstore.Notification{Phase: eventstore.ChangeDone, Type: "transit:a.yaml"})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: store.change_done") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"type":"transit:a.yaml"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "chart.updated", Data: map[string]string{"path": "x.yaml"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: chart.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "chart.updated", Data: map[string]string{"path": "x.yaml"}})
	b.PublishChartEvent("updated", "x.yaml")
	b.PublishNotification(eventstore.Notification{Phase: eventstore.AboutToChange})
	b.PublishProgress("t", nil)
}

func drain(ch chan []byte, wait time.Duration) []string {
	var out []string
	deadline := time.After(wait)
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-deadline:
			return out
		}
	}
}

func TestPublishProgress_TrailingReport(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishProgress("transit:a.yaml", map[string]int{"finished": 1})
	b.PublishProgress("transit:a.yaml", map[string]int{"finished": 2})
	b.PublishProgress("transit:a.yaml", map[string]int{"finished": 3})

	msgs := drain(ch, 400*time.Millisecond)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want first and latest: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[1], `"finished":3`) {
		t.Errorf("trailing report = %q, want the latest", msgs[1])
	}
}

func TestEventIDsAndReplay(t *testing.T) {
	b := NewBroker(time.Second, WithHistory(2))
	defer b.Close()
	first := b.Subscribe()
	defer b.Unsubscribe(first)

	for _, p := range []string{"a.yaml", "b.yaml", "c.yaml"} {
		b.PublishChartEvent("created", p)
	}
	msgs := drain(first, 100*time.Millisecond)
	if len(msgs) != 3 || !strings.HasPrefix(msgs[2], "id: 3\n") {
		t.Fatalf("messages = %q", msgs)
	}

	// Only the last two are retained; the client saw id 1.
	late := b.SubscribeFrom(1)
	defer b.Unsubscribe(late)
	replayed := drain(late, 100*time.Millisecond)
	if len(replayed) != 2 || !strings.Contains(replayed[0], "b.yaml") || !strings.Contains(replayed[1], "c.yaml") {
		t.Errorf("replayed = %q", replayed)
	}
}

func TestSubscribeFrom_Filters(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.SubscribeFrom(0, "search.")
	defer b.Unsubscribe(ch)

	b.PublishChartEvent("created", "a.yaml")
	b.Publish(Event{Type: "search.done", Data: map[string]string{"type": "transit:a.yaml"}})

	msgs := drain(ch, 100*time.Millisecond)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "event: search.done") {
		t.Errorf("filtered messages = %q", msgs)
	}
}

func TestSSEHandler_LastEventIDAndHeartbeat(t *testing.T) {
	b := NewBroker(time.Second, WithHeartbeat(20*time.Millisecond))
	defer b.Close()
	b.PublishChartEvent("created", "a.yaml")
	b.PublishChartEvent("created", "b.yaml")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events?types=chart", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, "a.yaml") || !strings.Contains(body, "id: 2\nevent: chart.created") {
		t.Errorf("replay body = %q", body)
	}
	if !strings.Contains(body, ": ping") {
		t.Errorf("no heartbeat in %q", body)
	}
}
