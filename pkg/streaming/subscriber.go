package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// SubscriberState is the subscriber's connection state.
type SubscriberState int32

const (
	SubscriberDisconnected SubscriberState = iota
	SubscriberConnecting
	SubscriberConnected
	SubscriberReconnecting
	SubscriberClosed
)

func (s SubscriberState) String() string {
	switch s {
	case SubscriberDisconnected:
		return "disconnected"
	case SubscriberConnecting:
		return "connecting"
	case SubscriberConnected:
		return "connected"
	case SubscriberReconnecting:
		return "reconnecting"
	case SubscriberClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SubscriberConfig configures a feed subscriber.
type SubscriberConfig struct {
	// URL is the daemon's /ws endpoint.
	URL string

	// Events filters the feed; empty means everything.
	Events []EventType

	// Reconnect backoff. Zero values take the defaults below.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// ReadTimeout bounds each read; the hub pings well inside it.
	ReadTimeout time.Duration

	// Buffer is the event channel capacity.
	Buffer int
}

func (c *SubscriberConfig) withDefaults() SubscriberConfig {
	out := *c
	if out.ReconnectMinDelay <= 0 {
		out.ReconnectMinDelay = time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 30 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 90 * time.Second
	}
	if out.Buffer <= 0 {
		out.Buffer = 100
	}
	return out
}

// Subscriber consumes the daemon's event feed, reconnecting with
// exponential backoff when the connection drops. Events arrive on
// Events(); the channel closes when the subscriber is closed for good.
type Subscriber struct {
	config SubscriberConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	state  int32 // atomic SubscriberState

	events    chan Event
	closeCh   chan struct{}
	closeOnce sync.Once

	onStateChange func(old, new SubscriberState)
}

// NewSubscriber creates a subscriber for the given feed.
func NewSubscriber(config SubscriberConfig) *Subscriber {
	cfg := config.withDefaults()
	return &Subscriber{
		config:  cfg,
		events:  make(chan Event, cfg.Buffer),
		closeCh: make(chan struct{}),
	}
}

// OnStateChange sets a callback invoked on connection state changes.
func (s *Subscriber) OnStateChange(fn func(old, new SubscriberState)) {
	s.onStateChange = fn
}

// Events returns the channel events are delivered on.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Subscriber) State() SubscriberState {
	return SubscriberState(atomic.LoadInt32(&s.state))
}

// Connect dials the feed and starts the read loop. The loop reconnects
// on its own until Close is called.
func (s *Subscriber) Connect(ctx context.Context) error {
	if s.State() == SubscriberClosed {
		return errors.New("subscriber is closed")
	}

	if err := s.dial(ctx); err != nil {
		return err
	}

	go s.readLoop()
	return nil
}

// Close shuts the subscriber down and closes the event channel.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.setState(SubscriberClosed)
		close(s.closeCh)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	return nil
}

func (s *Subscriber) dial(ctx context.Context) error {
	s.setState(SubscriberConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		s.setState(SubscriberDisconnected)
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.setState(SubscriberConnected)
	return s.sendFilter(conn)
}

// sendFilter narrows the hub's default everything-subscription down to
// the configured event types.
func (s *Subscriber) sendFilter(conn *websocket.Conn) error {
	if len(s.config.Events) == 0 {
		return nil
	}

	all := []EventType{
		EventTypeTransition,
		EventTypePrediction,
		EventTypeSchedule,
		EventTypeError,
		EventTypeHeartbeat,
	}
	wanted := make(map[EventType]bool, len(s.config.Events))
	for _, e := range s.config.Events {
		wanted[e] = true
	}
	var drop []string
	for _, e := range all {
		if !wanted[e] {
			drop = append(drop, string(e))
		}
	}
	if len(drop) == 0 {
		return nil
	}

	msg := map[string]interface{}{"type": "unsubscribe", "events": drop}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Subscriber) readLoop() {
	// The loop only exits for good once the subscriber is closed or a
	// reconnect was abandoned, so the channel can close with it.
	defer close(s.events)

	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		conn.SetPingHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
			deadline := time.Now().Add(10 * time.Second)
			return conn.WriteControl(websocket.PongMessage, nil, deadline)
		})

		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.State() == SubscriberClosed {
				return
			}
			if !s.reconnect() {
				return
			}
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}

		select {
		case s.events <- event:
		case <-s.closeCh:
			return
		default:
			// Consumer is behind; drop rather than stall the feed.
		}
	}
}

// reconnect dials with exponential backoff until it succeeds or the
// subscriber is closed. It reports whether a connection was restored.
func (s *Subscriber) reconnect() bool {
	s.setState(SubscriberReconnecting)

	delay := s.config.ReconnectMinDelay
	for {
		select {
		case <-s.closeCh:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.dial(ctx)
		cancel()
		if err == nil {
			return true
		}

		delay *= 2
		if delay > s.config.ReconnectMaxDelay {
			delay = s.config.ReconnectMaxDelay
		}
	}
}

func (s *Subscriber) setState(next SubscriberState) {
	old := SubscriberState(atomic.SwapInt32(&s.state, int32(next)))
	if old != next && s.onStateChange != nil {
		s.onStateChange(old, next)
	}
}
