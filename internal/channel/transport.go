package channel

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single established transport connection. One reader at a time.
type Conn interface {
	// ReadMessage blocks until the next frame or a close/error.
	ReadMessage() ([]byte, error)
	// Close sends a close frame with the given status code and tears the
	// connection down.
	Close(code int) error
}

// Dialer establishes transport connections. The production implementation
// wraps gorilla/websocket; tests inject fakes.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebsocketDialer dials the live channel endpoint over websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close(code int) error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
	return c.conn.Close()
}

// CloseCode extracts the websocket close status code from a read error, or 0
// when the error carries none (network failure mid-read, handshake error).
func CloseCode(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return 0
}

// endpointURL appends the authentication token as a query parameter.
func endpointURL(rawURL, token string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
