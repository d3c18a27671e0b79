package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncated = errors.New("packet truncated")
	ErrMalformed = errors.New("packet malformed")
)

// Encode serializes a Packet into a PacketSize buffer. Integer fields are
// masked to their wire width and payload beyond MaxPayloadSize is dropped;
// callers validate before encoding.
func Encode(pkt *Packet) []byte {
	buf := make([]byte, PacketSize)
	h := &pkt.Header

	flags := byte(h.Type) & typeMask
	if h.IsMesh {
		flags |= flagIsMesh
	}
	if h.NeedAck {
		flags |= flagNeedAck
	}
	buf[0] = flags

	id := h.MsgID & MsgIDMask
	buf[1] = byte(id >> 16)
	buf[2] = byte(id >> 8)
	buf[3] = byte(id)

	buf[4] = h.FragmentNum
	buf[5] = h.FragmentTotal
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Origin))
	binary.BigEndian.PutUint16(buf[8:10], uint16(h.From))
	binary.BigEndian.PutUint16(buf[10:12], uint16(h.To))
	buf[12] = h.HopCount
	buf[13] = h.MaxHops
	binary.BigEndian.PutUint32(buf[14:18], h.Timestamp)

	copy(buf[HeaderSize:], pkt.Payload)
	return buf
}

// Decode deserializes one packet. Every 6-bit type is accepted so that
// nodes relay types they do not know. The payload is copied out of data and
// keeps its zero padding; trimming happens after reassembly.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrTruncated, len(data), HeaderSize)
	}

	flags := data[0]
	h := Header{
		Type:          MsgType(flags & typeMask),
		IsMesh:        flags&flagIsMesh != 0,
		NeedAck:       flags&flagNeedAck != 0,
		MsgID:         uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]),
		FragmentNum:   data[4],
		FragmentTotal: data[5],
		Origin:        Address(binary.BigEndian.Uint16(data[6:8])),
		From:          Address(binary.BigEndian.Uint16(data[8:10])),
		To:            Address(binary.BigEndian.Uint16(data[10:12])),
		HopCount:      data[12],
		MaxHops:       data[13],
		Timestamp:     binary.BigEndian.Uint32(data[14:18]),
	}

	if h.FragmentTotal == 0 || h.FragmentNum >= h.FragmentTotal {
		return nil, fmt.Errorf("%w: fragment %d/%d", ErrMalformed, h.FragmentNum, h.FragmentTotal)
	}

	end := min(len(data), PacketSize)
	pkt := &Packet{Header: h, Payload: make([]byte, end-HeaderSize)}
	copy(pkt.Payload, data[HeaderSize:end])
	return pkt, nil
}

// SplitFrames cuts a receive burst into PacketSize frames. The radio may
// deliver several back-to-back packets as one burst; a trailing remainder
// shorter than a full packet is returned as is so Decode can judge it.
func SplitFrames(raw []byte) [][]byte {
	if len(raw) <= PacketSize {
		return [][]byte{raw}
	}
	frames := make([][]byte, 0, (len(raw)+PacketSize-1)/PacketSize)
	for len(raw) > 0 {
		n := min(len(raw), PacketSize)
		frames = append(frames, raw[:n])
		raw = raw[n:]
	}
	return frames
}
