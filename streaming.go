package agewatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LiveConfig configures the live feed.
type LiveConfig struct {
	// BufferSize is the channel buffer size per subscription
	BufferSize int `yaml:"buffer_size"`
	// WriteTimeout for WebSocket writes
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultLiveConfig returns default live feed configuration.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		BufferSize:   256,
		WriteTimeout: 10 * time.Second,
	}
}

// Live event types.
const (
	EventSample   = "sample"
	EventProgress = "progress"
	EventFinish   = "finish"
)

// LiveEvent is one message of the live feed.
type LiveEvent struct {
	Type     string        `json:"type"`
	Sample   *LiveSample   `json:"sample,omitempty"`
	Progress *LiveProgress `json:"progress,omitempty"`
}

// LiveSample is a written sample; Timestamp is Unix seconds.
type LiveSample struct {
	Timestamp float64 `json:"timestamp"`
	CPU       float64 `json:"cpu"`
	Mem       float64 `json:"mem"`
	Disk      float64 `json:"disk"`
}

// LiveProgress is a countdown tick.
type LiveProgress struct {
	Tick     int     `json:"tick"`
	Ticks    int     `json:"ticks"`
	Elapsed  float64 `json:"elapsed_seconds"`
	Total    float64 `json:"total_seconds"`
	Fraction float64 `json:"fraction"`
}

// LiveSubscription receives events of the selected types.
type LiveSubscription struct {
	ID     string
	types  map[string]bool
	ch     chan LiveEvent
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// C returns the channel for receiving events.
func (s *LiveSubscription) C() <-chan LiveEvent {
	return s.ch
}

// Close closes the subscription.
func (s *LiveSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

func (s *LiveSubscription) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// LiveHub fans sampler and supervisor activity out to subscribers. It is a
// SampleObserver and a ProgressReporter, so it plugs into both.
type LiveHub struct {
	config LiveConfig
	mu     sync.RWMutex
	subs   map[string]*LiveSubscription
	nextID uint64
}

// NewLiveHub creates a hub.
func NewLiveHub(cfg LiveConfig) *LiveHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &LiveHub{config: cfg, subs: make(map[string]*LiveSubscription)}
}

// Subscribe registers a subscription for the given event types; none
// means all.
func (h *LiveHub) Subscribe(types ...string) *LiveSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &LiveSubscription{
		ID:    fmt.Sprintf("sub-%d", h.nextID),
		types: make(map[string]bool, len(types)),
		ch:    make(chan LiveEvent, h.config.BufferSize),
		done:  make(chan struct{}),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (h *LiveHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Publish sends e to every matching subscription without blocking.
func (h *LiveHub) Publish(e LiveEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Buffer full, drop the event
		}
	}
}

// Count returns the number of active subscriptions.
func (h *LiveHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ObserveSample implements SampleObserver.
func (h *LiveHub) ObserveSample(s Sample) {
	h.Publish(LiveEvent{Type: EventSample, Sample: &LiveSample{
		Timestamp: float64(s.Timestamp) / 1e9,
		CPU:       s.CPU,
		Mem:       s.Mem,
		Disk:      s.Disk,
	}})
}

// Progress implements ProgressReporter.
func (h *LiveHub) Progress(p Progress) {
	h.Publish(LiveEvent{Type: EventProgress, Progress: &LiveProgress{
		Tick:     p.Tick,
		Ticks:    p.Ticks,
		Elapsed:  p.Elapsed.Seconds(),
		Total:    p.Total.Seconds(),
		Fraction: p.Fraction,
	}})
}

// Finish implements ProgressReporter.
func (h *LiveHub) Finish() {
	h.Publish(LiveEvent{Type: EventFinish})
}

// WebSocket handling

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveCommand is a client message.
type LiveCommand struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
	SubID  string   `json:"sub_id,omitempty"`
}

// LiveReply acknowledges a command.
type LiveReply struct {
	Type  string `json:"type"`
	SubID string `json:"sub_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// liveConn serializes writes to one WebSocket connection.
type liveConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *liveConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteJSON(v)
}

// WebSocketHandler returns an HTTP handler for live feed connections.
// Clients send {"type":"subscribe","events":["sample"]} and receive
// LiveEvent messages until they unsubscribe or disconnect.
func (h *LiveHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		conn := &liveConn{conn: ws, timeout: h.config.WriteTimeout}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		connSubs := make(map[string]*LiveSubscription)
		var connMu sync.Mutex

		go func() {
			defer cancel()
			for {
				_, msg, err := ws.ReadMessage()
				if err != nil {
					return
				}

				var cmd LiveCommand
				if err := json.Unmarshal(msg, &cmd); err != nil {
					_ = conn.writeJSON(LiveReply{Type: "error", Error: "invalid message format"})
					continue
				}

				switch cmd.Type {
				case "subscribe":
					sub := h.Subscribe(cmd.Events...)
					connMu.Lock()
					connSubs[sub.ID] = sub
					connMu.Unlock()
					_ = conn.writeJSON(LiveReply{Type: "subscribed", SubID: sub.ID})
					go h.forward(ctx, conn, sub)

				case "unsubscribe":
					connMu.Lock()
					if _, ok := connSubs[cmd.SubID]; ok {
						delete(connSubs, cmd.SubID)
						h.Unsubscribe(cmd.SubID)
					}
					connMu.Unlock()
					_ = conn.writeJSON(LiveReply{Type: "unsubscribed", SubID: cmd.SubID})

				default:
					_ = conn.writeJSON(LiveReply{Type: "error", Error: "unknown command: " + cmd.Type})
				}
			}
		}()

		<-ctx.Done()

		connMu.Lock()
		for id := range connSubs {
			h.Unsubscribe(id)
		}
		connMu.Unlock()
	}
}

func (h *LiveHub) forward(ctx context.Context, conn *liveConn, sub *LiveSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case e, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := conn.writeJSON(e); err != nil {
				return
			}
		}
	}
}
