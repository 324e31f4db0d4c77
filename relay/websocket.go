package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
)

// Client is a signalling-relay connection: publishes signed events and
// delivers inbound ones to subscribers, deduplicated by event id.
// Grounded on pkg/agent/transport/websocket.WSTransport's connect/
// reconnect and background-reader shape, adapted from a request/response
// RPC transport to a broadcast publish/subscribe one (no per-message
// response correlation; every inbound event fans out to Events()).
type Client struct {
	url string
	log logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	dialTimeout time.Duration

	events chan *Event
	dedup  *Deduper

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a relay client for url; it does not dial until Connect
// is called.
func NewClient(url string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Client{
		url:         url,
		log:         log,
		dialTimeout: 10 * time.Second,
		events:      make(chan *Event, 64),
		dedup:       NewDeduper(5*time.Minute, time.Minute),
		closed:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the background reader.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("relay dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("relay dial failed: %w", err)
	}
	c.conn = conn
	go c.readLoop()
	return nil
}

// Publish signs nothing itself — callers pass an already-signed Event —
// and writes it to the relay as JSON.
func (c *Client) Publish(ev *Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("relay client not connected")
	}
	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	metrics.EnvelopesSent.WithLabelValues(typeOrUnknown(ev)).Inc()
	return nil
}

func typeOrUnknown(ev *Event) string {
	if t, ok := ev.EnvelopeType(); ok {
		return t
	}
	return "unknown"
}

// Events returns the channel of deduplicated, signature-verified inbound
// events. Callers should filter by SessionID themselves (the relay may
// fan in events from other sessions sharing the connection).
func (c *Client) Events() <-chan *Event { return c.events }

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("relay read error", logger.Error(err))
			}
			return
		}

		if c.dedup.SeenBefore(ev.ID) {
			metrics.EnvelopesReceived.WithLabelValues(typeOrUnknown(&ev), "duplicate").Inc()
			continue
		}
		if err := ev.Verify(); err != nil {
			metrics.EnvelopesReceived.WithLabelValues(typeOrUnknown(&ev), "invalid").Inc()
			c.log.Warn("dropping relay event with invalid signature", logger.String("event_id", ev.ID), logger.Error(err))
			continue
		}
		metrics.EnvelopesReceived.WithLabelValues(typeOrUnknown(&ev), "accepted").Inc()

		select {
		case c.events <- &ev:
		case <-c.closed:
			return
		}
	}
}

// Close closes the relay connection and stops the reader.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.dedup.Close()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = c.conn.Close()
			c.conn = nil
		}
	})
	return err
}
