// client.go provides a WebSocket command client for taskctl and tests.
//
// Call sends one envelope and waits for its response. A Client is not
// multiplexed: concurrent Calls are serialized.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doughall/taskd/internal/commands"
)

// Exponential backoff configuration for dial retries
const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3 // +/- 30% random jitter
)

// ErrNotConnected is returned when Call is used after Close.
var ErrNotConnected = errors.New("websocket not connected")

// Client is a connected command client.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
}

// Dial connects to serverURL, retrying up to attempts times with jittered
// exponential backoff. http(s) URLs are converted to ws(s) and a bare host
// gets the /ws path.
func Dial(ctx context.Context, serverURL string, attempts int, logger *slog.Logger) (*Client, error) {
	wsURL, err := BuildURL(serverURL)
	if err != nil {
		return nil, err
	}
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			return &Client{conn: conn, logger: logger}, nil
		}
		if attempt >= attempts {
			return nil, fmt.Errorf("dial %s: %w", wsURL, err)
		}

		logger.Warn("websocket connection failed",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// BuildURL converts a server URL into the WebSocket endpoint URL.
func BuildURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}

	// Convert scheme: http -> ws, https -> wss
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// Call sends env and returns the server's response.
func (c *Client) Call(ctx context.Context, env commands.Envelope) (*commands.Response, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	c.conn.SetReadDeadline(deadline.Add(pongWait))
	_, reply, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var resp commands.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// nextBackoff computes the next backoff duration with jitter.
// Formula: min(current * factor +/- 30%, maxBackoff)
func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)

	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	next = time.Duration(float64(next) + jitter)

	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
