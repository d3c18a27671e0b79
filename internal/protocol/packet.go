// Package protocol defines the mesh packet format and message types.
package protocol

import "fmt"

// Address is a flat 16-bit node identifier.
type Address uint16

// Reserved addresses.
const (
	HubAddress Address = 0x0001
	Broadcast  Address = 0xFFFF
)

// MsgType is the 6-bit message type carried in the flags byte.
type MsgType uint8

// Message type constants.
const (
	TypeData     MsgType = 0x01
	TypeAck      MsgType = 0x02
	TypeSetPrice MsgType = 0x03 // hub -> pricer price update (JSON)
	TypeSendID   MsgType = 0x04 // pricer -> hub heartbeat
	TypeBye      MsgType = 0x05
	TypePing     MsgType = 0x06
	TypePong     MsgType = 0x07
	TypeFragment MsgType = 0x10 // legacy on-air type for fragmented sends
)

// Valid reports whether t is one of the known message types.
func (t MsgType) Valid() bool {
	switch t {
	case TypeData, TypeAck, TypeSetPrice, TypeSendID, TypeBye, TypePing, TypePong, TypeFragment:
		return true
	}
	return false
}

func (t MsgType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypeSetPrice:
		return "SET_PRICE"
	case TypeSendID:
		return "SEND_ID"
	case TypeBye:
		return "BYE"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeFragment:
		return "FRAGMENT"
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// Wire sizes.
const (
	HeaderSize     = 18                          // flags(1) msgID(3) frag(2) origin(2) from(2) to(2) hops(2) ts(4)
	MaxPayloadSize = 40                          // payload bytes per packet
	PacketSize     = HeaderSize + MaxPayloadSize // every packet is padded to this size
	MaxFragments   = 255
	MsgIDMask      = 0xFFFFFF
)

// Flag bits of header byte 0.
const (
	typeMask    = 0x3F
	flagIsMesh  = 0x40
	flagNeedAck = 0x80
)

// Header is the fixed 18-byte mesh header.
type Header struct {
	Type          MsgType
	IsMesh        bool
	NeedAck       bool
	MsgID         uint32 // 24 bits on the wire
	FragmentNum   uint8
	FragmentTotal uint8
	Origin        Address // node that created the message
	From          Address // last transmitter, rewritten on every hop
	To            Address // final destination or Broadcast
	HopCount      uint8
	MaxHops       uint8
	Timestamp     uint32 // originator wall clock, seconds
}

// CanRelay reports whether the packet may be forwarded one more hop.
func (h *Header) CanRelay() bool {
	return h.IsMesh && h.HopCount < h.MaxHops
}

func (h Header) String() string {
	return fmt.Sprintf("Hdr(t=%s,id=0x%06X,f=%d/%d,o=%d,to=%d,hop=%d/%d)",
		h.Type, h.MsgID, h.FragmentNum, h.FragmentTotal, h.Origin, h.To, h.HopCount, h.MaxHops)
}

// Packet is a header plus at most MaxPayloadSize bytes of payload.
type Packet struct {
	Header  Header
	Payload []byte
}
