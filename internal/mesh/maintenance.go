package mesh

import (
	"time"

	"github.com/1ureka/loramesh/internal/util"
)

// cleanup expires seen entries and stale assembly buffers.
func (n *Node) cleanup(now time.Time) {
	n.seen.Sweep(now, n.cfg.SeenTTL)

	for key, buf := range n.assemblies.Sweep(now, n.cfg.AssemblyTTL) {
		n.stats.DroppedIncomplete++
		util.LogWarning("[%d] assembly of 0x%06X from %d expired at %d/%d frags",
			n.self, key.msgID, key.origin, len(buf.parts), buf.total)
	}
}

// retryExpired retransmits every pending message whose ACK is overdue, or
// gives up on it once its retries are spent. A retransmission is a new
// message with a new msg id that inherits the remaining budget minus one.
func (n *Node) retryExpired(now time.Time) {
	var overdue []uint32
	n.pending.Range(func(id uint32, _ *pendingAck, sentAt time.Time) bool {
		if now.Sub(sentAt) > n.cfg.AckTimeout {
			overdue = append(overdue, id)
		}
		return true
	})

	for _, id := range overdue {
		p, ok := n.pending.Get(id)
		if !ok {
			continue
		}
		n.pending.Remove(id)

		if p.retries <= 0 {
			n.stats.Timeouts++
			util.LogWarning("[%d] ACK timeout: 0x%06X to %d", n.self, id, p.to)
			continue
		}

		util.LogInfo("[%d] resending 0x%06X, retries=%d", n.self, id, p.retries)
		newID, err := n.send(p.payload, p.to, p.typ, true, n.cfg.FragmentDelay)
		if err != nil {
			p.retries--
			n.pending.Insert(id, p, n.clock.Now())
			util.LogWarning("[%d] resend of 0x%06X failed: %v", n.self, id, err)
			continue
		}
		if np, ok := n.pending.Get(newID); ok {
			np.retries = p.retries - 1
		}
	}
}

func (n *Node) onPendingEvicted(id uint32, p *pendingAck) {
	util.LogWarning("[%d] pending ACK table full, gave up on 0x%06X to %d", n.self, id, p.to)
}
