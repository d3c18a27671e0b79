package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when the caller passes none. No TURN: the
// bridge is meant for direct P2P connectivity.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection using the given STUN servers.
// An empty list gathers host candidates only, which is enough on a LAN.
func newPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	var config webrtc.Configuration
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, unordered DataChannel with no
// retransmits. Negotiated mode (ID 0) lets both sides create the channel
// independently. A lost frame behaves like a lost radio packet, which the
// mesh already recovers from with ACKs.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	maxRetransmits := uint16(0)
	id := uint16(0)

	return pc.CreateDataChannel("mesh", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}
