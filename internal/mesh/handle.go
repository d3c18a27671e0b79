package mesh

import (
	"bytes"
	"time"

	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/util"
)

// handle classifies one decoded packet.
func (n *Node) handle(pkt *protocol.Packet) {
	h := &pkt.Header
	now := n.clock.Now()

	key := seenKey{origin: h.Origin, msgID: h.MsgID, frag: h.FragmentNum, ack: h.Type == protocol.TypeAck}
	if n.seen.Contains(key) {
		n.stats.DroppedDuplicate++
		util.LogDebug("[%d] duplicate %s", n.self, h)
		return
	}
	n.seen.Insert(key, struct{}{}, now)

	// Our own message heard back through a relay.
	if h.Origin == n.self {
		return
	}

	if h.Type == protocol.TypeAck {
		if h.To == n.self {
			n.resolveAck(h)
		} else {
			n.relay(pkt)
		}
		return
	}

	forMe := h.To == n.self || h.To == protocol.Broadcast
	switch {
	case forMe && !h.Type.Valid():
		util.LogDebug("[%d] ignoring unknown type %s", n.self, h)
	case forMe:
		if h.FragmentTotal > 1 {
			n.assemble(pkt, now)
		} else {
			n.finalize(*h, pkt.Payload)
		}
	}

	switch {
	case h.To != protocol.Broadcast && !forMe:
		n.relay(pkt)
	case h.To == protocol.Broadcast && h.IsMesh:
		n.relay(pkt)
	}
}

// finalize delivers a complete message and acknowledges it if asked.
func (n *Node) finalize(h protocol.Header, data []byte) {
	// Payloads are zero padded on the wire and carry no length, so trailing
	// zero bytes cannot be told apart from padding.
	data = bytes.TrimRight(data, "\x00")

	util.LogInfo("[%d] MSG %s from %d, 0x%06X, %dB", n.self, h.Type, h.Origin, h.MsgID, len(data))
	if h.NeedAck {
		n.sendAck(h)
	}
	n.enqueue(Message{Header: h, Payload: data})
}

func (n *Node) sendAck(orig protocol.Header) {
	pkt := &protocol.Packet{Header: protocol.Header{
		Type:          protocol.TypeAck,
		IsMesh:        true,
		MsgID:         orig.MsgID,
		FragmentNum:   0,
		FragmentTotal: 1,
		Origin:        n.self,
		From:          n.self,
		To:            orig.Origin,
		HopCount:      0,
		MaxHops:       orig.MaxHops,
		Timestamp:     uint32(n.clock.Now().Unix()),
	}}
	if err := n.port.SendRaw(protocol.Encode(pkt)); err != nil {
		n.stats.TxFailed++
		util.LogWarning("[%d] ACK for 0x%06X not sent: %v", n.self, orig.MsgID, err)
		return
	}
	n.stats.AcksSent++
	n.seen.Insert(seenKey{origin: n.self, msgID: orig.MsgID, ack: true}, struct{}{}, n.clock.Now())
	util.LogDebug("[%d] ACK sent for 0x%06X to %d", n.self, orig.MsgID, orig.Origin)
}

func (n *Node) resolveAck(h *protocol.Header) {
	if !n.pending.Remove(h.MsgID) {
		return
	}
	n.stats.AcksReceived++
	util.LogInfo("[%d] ACK received: 0x%06X from %d", n.self, h.MsgID, h.Origin)
}

// relay forwards pkt one more hop after a random delay.
func (n *Node) relay(pkt *protocol.Packet) {
	if !n.cfg.RelayEnabled {
		return
	}
	if !pkt.Header.CanRelay() {
		n.stats.DroppedTTL++
		util.LogDebug("[%d] TTL exhausted %s", n.self, pkt.Header)
		return
	}

	out := &protocol.Packet{Header: pkt.Header, Payload: pkt.Payload}
	out.Header.HopCount++
	out.Header.From = n.self

	n.sleep(n.jitter())
	if err := n.port.SendRaw(protocol.Encode(out)); err != nil {
		n.stats.TxFailed++
		util.LogWarning("[%d] relay of 0x%06X failed: %v", n.self, out.Header.MsgID, err)
		return
	}
	n.stats.Relayed++
	util.LogDebug("[%d] RELAY 0x%06X hop %d/%d", n.self, out.Header.MsgID, out.Header.HopCount, out.Header.MaxHops)
}

// jitter picks a relay delay in [RelayJitterMin, RelayJitterMax].
func (n *Node) jitter() time.Duration {
	lo, hi := n.cfg.RelayJitterMin, n.cfg.RelayJitterMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(n.rng.Int64N(int64(hi-lo)+1))
}
