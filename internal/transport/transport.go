// Package transport carries raw mesh frames between two sites over a WebRTC
// DataChannel, so a radio segment can be bridged to a remote one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/loramesh/internal/radio"
	"github.com/1ureka/loramesh/internal/util"
)

const (
	highWaterMark = 256 * 1024 // treat the link as busy above this bufferedAmount
	lowWaterMark  = 64 * 1024  // busy link becomes ready again below this
)

// Transport wraps a single PeerConnection + DataChannel pair. Once the
// channel is open it implements radio.Transceiver: every DataChannel
// message is one frame.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	inbox        *radio.Inbox
	openSignal   chan struct{}
	drainSignal  chan struct{}
	readyTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// Options tunes a Transport.
type Options struct {
	STUNServers []string
	// ReadyTimeout bounds how long SendRaw waits for the channel to open or
	// drain.
	ReadyTimeout time.Duration
}

// NewTransport creates a Transport backed by a new PeerConnection and a
// pre-negotiated DataChannel. The caller performs signaling via the exposed
// methods (CreateOffer / CreateAnswer / …) and then uses it as a radio.
//
// The Transport is considered alive as long as the DataChannel is open and
// ctx has not been cancelled.
func NewTransport(ctx context.Context, opts Options) (*Transport, error) {
	pc, err := newPeerConnection(opts.STUNServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = radio.DefaultReadyTimeout
	}
	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:           pc,
		dc:           dc,
		inbox:        radio.NewInbox(radio.DefaultInboxSize),
		openSignal:   make(chan struct{}),
		drainSignal:  make(chan struct{}, 1),
		readyTimeout: opts.ReadyTimeout,
		ctx:          tCtx,
		cancel:       tCancel,
		pcState:      webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// Closing the DataChannel cancels the transport context and wakes receivers.
	dc.OnClose(func() {
		util.LogInfo("DataChannel closed")
		tCancel()
		t.inbox.Close()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.inbox.Push(msg.Data)
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case t.drainSignal <- struct{}{}:
		default:
		}
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open and
// the Transport is ready to send and receive.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down
// (DataChannel closed or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	t.inbox.Close()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Radio
// ---------------------------------------------------------------------------

// SendRaw sends data as one DataChannel message. The channel counts as ready
// once it is open and its send buffer is below the high-water mark; SendRaw
// waits up to the ready timeout for that.
func (t *Transport) SendRaw(data []byte) error {
	deadline := time.NewTimer(t.readyTimeout)
	defer deadline.Stop()

	select {
	case <-t.openSignal:
	case <-t.ctx.Done():
		return radio.ErrClosed
	case <-deadline.C:
		return radio.ErrNotReady
	}

	for t.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-t.drainSignal:
		case <-t.ctx.Done():
			return radio.ErrClosed
		case <-deadline.C:
			return radio.ErrNotReady
		}
	}

	if err := t.dc.Send(data); err != nil {
		return fmt.Errorf("datachannel send: %w", err)
	}
	return nil
}

// ReceiveRaw returns the next frame received from the remote site.
func (t *Transport) ReceiveRaw(timeout time.Duration) ([]byte, error) {
	return t.inbox.Pop(timeout)
}

// Available reports whether a frame is waiting.
func (t *Transport) Available() bool {
	return t.inbox.Len() > 0
}
