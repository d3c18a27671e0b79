// Package mesh implements the store-and-forward flood mesh engine: message
// fragmentation and reassembly, duplicate suppression, hop-bounded relaying
// and acknowledged delivery with bounded retry.
//
// A Node does no background work. The application calls Poll on a short
// fixed period; retries, expiry and relays all happen inside that call.
package mesh

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/1ureka/loramesh/internal/cache"
	"github.com/1ureka/loramesh/internal/config"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/radio"
	"github.com/1ureka/loramesh/internal/util"
)

var (
	ErrMessageTooLarge = errors.New("message needs more than 255 fragments")
	ErrInvalidType     = errors.New("invalid message type")
)

// Message is one delivered message: the header of its first received
// fragment and the reassembled payload with trailing zero bytes trimmed.
type Message struct {
	Header  protocol.Header
	Payload []byte
}

// seenKey identifies one transmitted packet. Fragments of a message and the
// ACK for it share a msg id but are distinct packets.
type seenKey struct {
	origin protocol.Address
	msgID  uint32
	frag   uint8
	ack    bool
}

// msgKey identifies a logical message.
type msgKey struct {
	origin protocol.Address
	msgID  uint32
}

// pendingAck is an outbound message waiting for its ACK. The send time is
// the cache entry's stamp.
type pendingAck struct {
	retries int
	to      protocol.Address
	payload []byte
	typ     protocol.MsgType
}

// Option customizes a Node.
type Option func(*Node)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithRand replaces the source of msg ids and relay jitter.
func WithRand(r *rand.Rand) Option {
	return func(n *Node) { n.rng = r }
}

// Node is one mesh participant. All protocol state lives here; Send and Poll
// serialize on a single mutex so a Node may be shared between goroutines.
type Node struct {
	mu sync.Mutex

	cfg   config.Mesh
	self  protocol.Address
	port  radio.Transceiver
	clock clock.Clock
	rng   *rand.Rand

	seen       *cache.Bounded[seenKey, struct{}]
	assemblies *cache.Bounded[msgKey, *assembly]
	pending    *cache.Bounded[uint32, *pendingAck]
	completed  []Message

	stats Stats
}

// NewNode creates a node with address self talking through port.
func NewNode(cfg config.Mesh, self protocol.Address, port radio.Transceiver, opts ...Option) (*Node, error) {
	if self == protocol.Broadcast {
		return nil, fmt.Errorf("node address %#04x is the broadcast address", uint16(self))
	}
	if port == nil {
		return nil, errors.New("nil transceiver")
	}
	if cfg.CompletedCapacity <= 0 || cfg.PollReturnLimit <= 0 || cfg.MaxReadsPerPoll <= 0 {
		return nil, fmt.Errorf("queue limits must be positive: completed=%d poll=%d reads=%d",
			cfg.CompletedCapacity, cfg.PollReturnLimit, cfg.MaxReadsPerPoll)
	}
	if cfg.AckTimeout <= 0 || cfg.SeenTTL <= 0 || cfg.AssemblyTTL <= 0 {
		return nil, fmt.Errorf("timeouts must be positive: ack=%s seen=%s assembly=%s",
			cfg.AckTimeout, cfg.SeenTTL, cfg.AssemblyTTL)
	}

	n := &Node{
		cfg:   cfg,
		self:  self,
		port:  port,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.rng == nil {
		n.rng = rand.New(rand.NewPCG(rand.Uint64(), uint64(n.clock.Now().UnixNano())))
	}

	var err error
	if n.seen, err = cache.New[seenKey, struct{}](cfg.SeenCapacity, nil); err != nil {
		return nil, fmt.Errorf("seen cache: %w", err)
	}
	if n.assemblies, err = cache.New(cfg.AssemblyCapacity, n.onAssemblyEvicted); err != nil {
		return nil, fmt.Errorf("assembly cache: %w", err)
	}
	if n.pending, err = cache.New(cfg.PendingCapacity, n.onPendingEvicted); err != nil {
		return nil, fmt.Errorf("pending ack table: %w", err)
	}
	return n, nil
}

// Address returns this node's mesh address.
func (n *Node) Address() protocol.Address { return n.self }

// Send transmits payload to the given node as one message, split into as
// many fragments as needed, and returns its msg id. Only the last fragment
// asks for an ACK. fragmentDelay is waited between fragments.
//
// A failed fragment aborts the message; nothing is recorded in that case.
func (n *Node) Send(payload []byte, to protocol.Address, typ protocol.MsgType, needAck bool, fragmentDelay time.Duration) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.send(payload, to, typ, needAck, fragmentDelay)
}

// SendString sends text with the configured inter-fragment delay.
func (n *Node) SendString(text string, to protocol.Address, typ protocol.MsgType, needAck bool) (uint32, error) {
	return n.Send([]byte(text), to, typ, needAck, n.cfg.FragmentDelay)
}

func (n *Node) send(payload []byte, to protocol.Address, typ protocol.MsgType, needAck bool, fragmentDelay time.Duration) (uint32, error) {
	if !typ.Valid() || typ == protocol.TypeAck {
		return 0, fmt.Errorf("%w: %s", ErrInvalidType, typ)
	}

	total := max(1, (len(payload)+protocol.MaxPayloadSize-1)/protocol.MaxPayloadSize)
	if total > protocol.MaxFragments {
		return 0, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	id := n.rng.Uint32() & protocol.MsgIDMask
	ts := uint32(n.clock.Now().Unix())
	util.LogInfo("[%d] TX 0x%06X %s, %dB in %d frags, to=%d", n.self, id, typ, len(payload), total, to)

	for i := 0; i < total; i++ {
		start := i * protocol.MaxPayloadSize
		end := min(start+protocol.MaxPayloadSize, len(payload))

		pkt := &protocol.Packet{
			Header: protocol.Header{
				Type:          typ,
				IsMesh:        true,
				NeedAck:       needAck && i == total-1,
				MsgID:         id,
				FragmentNum:   uint8(i),
				FragmentTotal: uint8(total),
				Origin:        n.self,
				From:          n.self,
				To:            to,
				HopCount:      0,
				MaxHops:       n.cfg.MaxHops,
				Timestamp:     ts,
			},
			Payload: payload[start:end],
		}
		if err := n.port.SendRaw(protocol.Encode(pkt)); err != nil {
			n.stats.TxFailed++
			util.LogError("[%d] frag %d/%d of 0x%06X failed: %v", n.self, i+1, total, id, err)
			return 0, fmt.Errorf("send fragment %d/%d of 0x%06X: %w", i+1, total, id, err)
		}
		n.stats.Tx++

		if i < total-1 {
			n.sleep(fragmentDelay)
		}
	}

	now := n.clock.Now()
	for i := 0; i < total; i++ {
		n.seen.Insert(seenKey{origin: n.self, msgID: id, frag: uint8(i)}, struct{}{}, now)
	}
	if needAck {
		n.pending.Insert(id, &pendingAck{
			retries: n.cfg.MaxRetries,
			to:      to,
			payload: append([]byte(nil), payload...),
			typ:     typ,
		}, now)
	}
	return id, nil
}

// Poll runs retry and expiry maintenance, drains the transceiver, handles
// every received packet, and returns up to PollReturnLimit completed
// messages, oldest first. Messages beyond the limit are returned by later
// calls.
func (n *Node) Poll() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	n.retryExpired(now)
	n.cleanup(now)
	n.drain()
	return n.takeCompleted()
}

// IsAckPending reports whether msgID is still waiting for its ACK.
func (n *Node) IsAckPending(msgID uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending.Contains(msgID)
}

// Stats returns a snapshot of the counters and table sizes.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := n.stats
	s.Seen = n.seen.Len()
	s.Assembling = n.assemblies.Len()
	s.PendingAcks = n.pending.Len()
	s.Queued = len(n.completed)
	return s
}

func (n *Node) drain() {
	for i := 0; i < n.cfg.MaxReadsPerPoll && n.port.Available(); i++ {
		raw, err := n.port.ReceiveRaw(n.cfg.ReadTimeout)
		if err != nil {
			if !errors.Is(err, radio.ErrTimeout) {
				util.LogWarning("[%d] receive: %v", n.self, err)
				return
			}
			continue
		}
		for _, frame := range protocol.SplitFrames(raw) {
			pkt, err := protocol.Decode(frame)
			if err != nil {
				n.stats.DroppedMalformed++
				util.LogDebug("[%d] dropped frame: %v", n.self, err)
				continue
			}
			n.stats.Rx++
			n.handle(pkt)
		}
	}
}

func (n *Node) takeCompleted() []Message {
	if len(n.completed) == 0 {
		return nil
	}
	k := min(len(n.completed), n.cfg.PollReturnLimit)
	out := make([]Message, k)
	copy(out, n.completed[:k])
	n.completed = append(n.completed[:0], n.completed[k:]...)
	return out
}

func (n *Node) enqueue(msg Message) {
	if len(n.completed) >= n.cfg.CompletedCapacity {
		dropped := n.completed[0]
		n.completed = append(n.completed[:0], n.completed[1:]...)
		util.LogWarning("[%d] completed queue full, dropped 0x%06X from %d",
			n.self, dropped.Header.MsgID, dropped.Header.Origin)
	}
	n.completed = append(n.completed, msg)
}

// sleep blocks on the node's clock. Zero delays must not reach a mock clock,
// whose Sleep waits for the test to advance time.
func (n *Node) sleep(d time.Duration) {
	if d > 0 {
		n.clock.Sleep(d)
	}
}
