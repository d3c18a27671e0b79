package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/loramesh/internal/transport"
	"github.com/1ureka/loramesh/internal/util"
)

// closedPeerGrace is how long a side keeps waiting for its DataChannel
// after the WebSocket dropped.
const closedPeerGrace = 5 * time.Second

// peer runs one side of the SDP/ICE exchange over a WebSocket.
type peer struct {
	conn *websocket.Conn
	tr   *transport.Transport
	mu   sync.Mutex // serializes writes to conn
}

func (p *peer) send(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.WriteJSON(msg); err != nil {
		// If WS closed because tr.Ready() already fired, that's fine.
		select {
		case <-p.tr.Ready():
		default:
			util.LogWarning("WS send failed: %v", err)
		}
	}
}

// trickle forwards local ICE candidates as they are gathered.
func (p *peer) trickle() {
	p.tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		msg, err := candidateMessage(c.ToJSON())
		if err != nil {
			util.LogWarning("%v", err)
			return
		}
		p.send(msg)
	})
}

func (p *peer) sendOffer() error {
	offer, err := p.tr.CreateOffer()
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := p.tr.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	p.send(descriptionMessage(offer))
	return nil
}

func (p *peer) answer(offer webrtc.SessionDescription) error {
	if err := p.tr.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	answer, err := p.tr.CreateAnswer()
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := p.tr.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	p.send(descriptionMessage(answer))
	return nil
}

// watch applies incoming signaling messages until the WebSocket fails.
func (p *peer) watch() error {
	for {
		var msg Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case MsgTypeOffer:
			if err := p.answer(msg.description()); err != nil {
				util.LogWarning("%v", err)
			}

		case MsgTypeAnswer:
			if err := p.tr.SetRemoteDescription(msg.description()); err != nil {
				util.LogWarning("SetRemoteDescription: %v", err)
			}

		case MsgTypeCandidate:
			init, err := msg.candidate()
			if err != nil {
				util.LogWarning("%v", err)
				continue
			}
			if err := p.tr.AddICECandidate(init); err != nil {
				util.LogWarning("AddICECandidate: %v", err)
			}
		}
	}
}

// exchange performs the SDP/ICE exchange. The host (offerer) sends the
// offer first; the client answers. It blocks until the DataChannel opens,
// the WebSocket fails, or ctx is done, and closes the WebSocket either way.
func exchange(ctx context.Context, conn *websocket.Conn, tr *transport.Transport, offerer bool) error {
	defer conn.Close()

	p := &peer{conn: conn, tr: tr}
	p.trickle()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.watch() // Exits when conn is closed (deferred above).
	}()

	if offerer {
		if err := p.sendOffer(); err != nil {
			return err
		}
	}

	select {
	case <-tr.Ready():
		return nil
	case err := <-errCh:
		// The other side closes the WS as soon as its own channel opens,
		// which may be slightly before ours does.
		grace := time.NewTimer(closedPeerGrace)
		defer grace.Stop()
		select {
		case <-tr.Ready():
			return nil
		case <-grace.C:
			return fmt.Errorf("WS read error: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
