package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMissingPIN is returned for a bridge URL without a pin parameter.
var ErrMissingPIN = errors.New("bridge URL has no pin")

const dialTimeout = 10 * time.Second

// BridgeURL normalizes what a user pastes from the host's banner. A bare
// "host:port?pin=123456" gets the ws scheme, and the path is always /ws.
func BridgeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid bridge URL %q", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid bridge URL scheme %q", u.Scheme)
	}
	if u.Query().Get("pin") == "" {
		return "", ErrMissingPIN
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Connect dials the host's signaling server at rawURL, which must carry the
// PIN, e.g. ws://192.168.1.20:40123/ws?pin=123456.
func Connect(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	wsURL, err := BridgeURL(rawURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}
