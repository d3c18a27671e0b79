package ether

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/loramesh/internal/radio"
	"github.com/1ureka/loramesh/internal/util"
)

// Client is a radio on the shared air. It implements radio.Transceiver.
type Client struct {
	conn         *websocket.Conn
	inbox        *radio.Inbox
	readyTimeout time.Duration

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial joins the air at url. readyTimeout bounds each SendRaw.
func Dial(ctx context.Context, url string, readyTimeout time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ether %s: %w", url, err)
	}
	if readyTimeout <= 0 {
		readyTimeout = radio.DefaultReadyTimeout
	}

	c := &Client{
		conn:         conn,
		inbox:        radio.NewInbox(radio.DefaultInboxSize),
		readyTimeout: readyTimeout,
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer func() {
		c.inbox.Close()
		c.closeOnce.Do(func() { close(c.done) })
	}()
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				util.LogWarning("ether: connection lost: %v", err)
			}
			return
		}
		if mt == websocket.BinaryMessage {
			c.inbox.Push(data)
		}
	}
}

// SendRaw transmits data as one frame.
func (c *Client) SendRaw(data []byte) error {
	select {
	case <-c.done:
		return radio.ErrClosed
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.readyTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", radio.ErrNotReady, err)
	}
	return nil
}

// ReceiveRaw returns the next frame heard on the air.
func (c *Client) ReceiveRaw(timeout time.Duration) ([]byte, error) {
	return c.inbox.Pop(timeout)
}

// Available reports whether a frame is waiting.
func (c *Client) Available() bool {
	return c.inbox.Len() > 0
}

// Close leaves the air.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.wmu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
