package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// Message is the JSON structure exchanged over the WebSocket while a bridge
// is being set up.
type Message struct {
	Type      MessageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

func descriptionMessage(sdp webrtc.SessionDescription) Message {
	typ := MsgTypeOffer
	if sdp.Type == webrtc.SDPTypeAnswer {
		typ = MsgTypeAnswer
	}
	return Message{Type: typ, SDP: sdp.SDP}
}

func candidateMessage(c webrtc.ICECandidateInit) (Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return Message{}, fmt.Errorf("encode ICE candidate: %w", err)
	}
	return Message{Type: MsgTypeCandidate, Candidate: string(data)}, nil
}

// description returns the SDP carried by an offer or answer.
func (m Message) description() webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if m.Type == MsgTypeAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: m.SDP}
}

// candidate decodes the ICE candidate carried by a candidate message.
func (m Message) candidate() (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(m.Candidate), &init); err != nil {
		return init, fmt.Errorf("bad ICE candidate: %w", err)
	}
	return init, nil
}
