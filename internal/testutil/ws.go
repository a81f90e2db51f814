package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is the generic shape of a gateway frame as seen by a client.
type Frame struct {
	Type      string          `json:"type"`
	SessionID int64           `json:"sessionId"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

// WSClient is a websocket test client for gateway integration testing.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given http(s) or ws(s) URL with header and returns a
// test client.
//
// Precondition: url must point at a listening websocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string, header http.Header) *WSClient {
	t.Helper()
	start := time.Now()

	url = strings.Replace(url, "http", "ws", 1)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("connecting to %s: %v (status %d) [%s]", url, err, status, time.Since(start))
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Read returns the next frame, failing the test when none arrives in timeout.
func (c *WSClient) Read(timeout time.Duration) Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return f
}

// ReadUntil reads frames until one with topic arrives and returns it.
//
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *WSClient) ReadUntil(topic string, timeout time.Duration) Frame {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no frame with topic %q within %s", topic, timeout)
		}
		if f := c.Read(remaining); f.Topic == topic {
			return f
		}
	}
}

// ExpectSilence fails the test when any frame arrives within d. The
// connection cannot be read from afterwards.
func (c *WSClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	var f Frame
	if err := c.conn.ReadJSON(&f); err == nil {
		c.t.Fatalf("unexpected frame %+v", f)
	}
}

// Send writes v as a JSON text frame.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("sending %+v: %v", v, err)
	}
}

// SendRaw writes text as-is.
func (c *WSClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	_ = c.conn.Close()
}
