package agewatch

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestLiveHub_Subscribe(t *testing.T) {
	hub := NewLiveHub(DefaultLiveConfig())

	sub := hub.Subscribe(EventSample)
	if sub.ID == "" {
		t.Error("expected a subscription ID")
	}
	if hub.Count() != 1 {
		t.Errorf("expected 1 subscription, got %d", hub.Count())
	}

	hub.Unsubscribe(sub.ID)
	hub.Unsubscribe(sub.ID)
	if hub.Count() != 0 {
		t.Errorf("expected 0 subscriptions, got %d", hub.Count())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestLiveHub_Publish(t *testing.T) {
	hub := NewLiveHub(LiveConfig{BufferSize: 2})
	samples := hub.Subscribe(EventSample)
	all := hub.Subscribe()

	hub.ObserveSample(Sample{Timestamp: 1_500_000_000, CPU: 10, Mem: 20, Disk: 30})
	hub.Progress(newProgress(1, 2, time.Second, 2*time.Second))
	hub.Finish()

	e := <-samples.C()
	if e.Type != EventSample || e.Sample == nil || e.Sample.Timestamp != 1.5 || e.Sample.Disk != 30 {
		t.Errorf("unexpected sample event %+v", e)
	}
	select {
	case e := <-samples.C():
		t.Errorf("sample subscription should not receive %s", e.Type)
	default:
	}

	// buffer of two: the finish event is dropped rather than blocking
	if e := <-all.C(); e.Type != EventSample {
		t.Errorf("expected sample first, got %s", e.Type)
	}
	if e := <-all.C(); e.Type != EventProgress || e.Progress.Fraction != 0.5 {
		t.Errorf("unexpected progress event %+v", e)
	}
	select {
	case e := <-all.C():
		t.Errorf("expected the overflowing event to be dropped, got %s", e.Type)
	default:
	}
}

func TestLiveHub_WebSocket(t *testing.T) {
	hub := NewLiveHub(DefaultLiveConfig())
	srv := httptest.NewServer(hub.WebSocketHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(LiveCommand{Type: "subscribe", Events: []string{EventSample}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var reply LiveReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != "subscribed" || reply.SubID == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	subID := reply.SubID

	hub.ObserveSample(Sample{Timestamp: 2_000_000_000, CPU: 42, Mem: 50, Disk: 60})

	var e LiveEvent
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if e.Type != EventSample || e.Sample == nil || e.Sample.CPU != 42 || e.Sample.Timestamp != 2 {
		t.Errorf("unexpected event %+v", e)
	}

	if err := conn.WriteJSON(LiveCommand{Type: "bogus"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	var errReply LiveReply
	if err := conn.ReadJSON(&errReply); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if errReply.Type != "error" || !strings.Contains(errReply.Error, "bogus") {
		t.Errorf("expected error reply, got %+v", errReply)
	}

	if err := conn.WriteJSON(LiveCommand{Type: "unsubscribe", SubID: subID}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	var unsub LiveReply
	if err := conn.ReadJSON(&unsub); err != nil {
		t.Fatalf("read unsubscribe reply: %v", err)
	}
	if unsub.Type != "unsubscribed" || unsub.SubID != subID {
		t.Errorf("unexpected reply %+v", unsub)
	}
	if hub.Count() != 0 {
		t.Errorf("expected no subscriptions left, got %d", hub.Count())
	}
}
