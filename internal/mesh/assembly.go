package mesh

import (
	"time"

	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/util"
)

// assembly collects the fragments of one inbound message. Its cache stamp
// is the arrival time of the first fragment.
type assembly struct {
	first   protocol.Header
	total   uint8
	parts   map[uint8][]byte
	needAck bool
}

func (n *Node) assemble(pkt *protocol.Packet, now time.Time) {
	h := &pkt.Header
	key := msgKey{origin: h.Origin, msgID: h.MsgID}

	buf, ok := n.assemblies.Get(key)
	if !ok {
		buf = &assembly{
			first: *h,
			total: h.FragmentTotal,
			parts: make(map[uint8][]byte, h.FragmentTotal),
		}
		n.assemblies.Insert(key, buf, now)
	}
	if h.FragmentTotal != buf.total {
		n.stats.DroppedMalformed++
		util.LogWarning("[%d] 0x%06X from %d: fragment claims %d parts, buffer has %d",
			n.self, h.MsgID, h.Origin, h.FragmentTotal, buf.total)
		return
	}
	if _, dup := buf.parts[h.FragmentNum]; dup {
		return
	}

	buf.parts[h.FragmentNum] = pkt.Payload
	// The sender only flags the last fragment, which may not arrive last.
	buf.needAck = buf.needAck || h.NeedAck
	util.LogDebug("[%d] frag %d/%d for 0x%06X", n.self, h.FragmentNum+1, buf.total, h.MsgID)

	if len(buf.parts) < int(buf.total) {
		return
	}
	n.assemblies.Remove(key)

	full := make([]byte, 0, int(buf.total)*protocol.MaxPayloadSize)
	for i := 0; i < int(buf.total); i++ {
		part, ok := buf.parts[uint8(i)]
		if !ok {
			n.stats.DroppedIncomplete++
			util.LogError("[%d] 0x%06X from %d: missing frag %d", n.self, h.MsgID, h.Origin, i)
			return
		}
		full = append(full, part...)
	}

	hdr := buf.first
	hdr.NeedAck = buf.needAck
	n.finalize(hdr, full)
}

func (n *Node) onAssemblyEvicted(key msgKey, buf *assembly) {
	n.stats.DroppedIncomplete++
	util.LogWarning("[%d] assembly of 0x%06X from %d evicted at %d/%d frags",
		n.self, key.msgID, key.origin, len(buf.parts), buf.total)
}
