package mesh

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/loramesh/internal/config"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/radio"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testConfig() config.Mesh {
	cfg := config.Default().Mesh
	cfg.RelayJitterMin = 0
	cfg.RelayJitterMax = 0
	cfg.FragmentDelay = 0
	cfg.ReadTimeout = 10 * time.Millisecond
	return cfg
}

type testNet struct {
	t      *testing.T
	medium *radio.Medium
	clock  *clock.Mock
	seed   uint64
}

func newTestNet(t *testing.T) *testNet {
	return &testNet{t: t, medium: radio.NewMedium(), clock: clock.NewMock()}
}

// node attaches a new node to the medium. The port is returned so tests can
// link it, inject frames or inspect what it transmitted.
func (tn *testNet) node(addr protocol.Address, cfg config.Mesh) (*Node, *radio.Port) {
	tn.t.Helper()
	tn.seed++
	port := tn.medium.Attach("node")
	n, err := NewNode(cfg, addr, port,
		WithClock(tn.clock),
		WithRand(rand.New(rand.NewPCG(tn.seed, 42))),
	)
	require.NoError(tn.t, err)
	return n, port
}

// observer attaches a silent port that hears p.
func (tn *testNet) observer(p *radio.Port) *radio.Port {
	obs := tn.medium.Attach("observer")
	tn.medium.Link(p, obs)
	return obs
}

func header(typ protocol.MsgType, id uint32, origin, to protocol.Address) protocol.Header {
	return protocol.Header{
		Type:          typ,
		IsMesh:        true,
		MsgID:         id,
		FragmentTotal: 1,
		Origin:        origin,
		From:          origin,
		To:            to,
		MaxHops:       5,
	}
}

func frame(h protocol.Header, payload []byte) []byte {
	return protocol.Encode(&protocol.Packet{Header: h, Payload: payload})
}

// heard decodes every frame waiting at p.
func heard(t *testing.T, p *radio.Port) []*protocol.Packet {
	t.Helper()
	var out []*protocol.Packet
	for p.Available() {
		raw, err := p.ReceiveRaw(time.Millisecond)
		require.NoError(t, err)
		pkt, err := protocol.Decode(raw)
		require.NoError(t, err)
		out = append(out, pkt)
	}
	return out
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i%250 + 1)
	}
	return b
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestNewNode_RejectsBroadcastAddress(t *testing.T) {
	m := radio.NewMedium()
	_, err := NewNode(testConfig(), protocol.Broadcast, m.Attach("x"))
	assert.Error(t, err)
}

func TestNewNode_RejectsZeroAckTimeout(t *testing.T) {
	m := radio.NewMedium()
	cfg := testConfig()
	cfg.AckTimeout = 0
	_, err := NewNode(cfg, 2, m.Attach("x"))
	assert.Error(t, err)
}

func TestSend_FragmentsWithAckOnLast(t *testing.T) {
	tn := newTestNet(t)
	a, port := tn.node(2, testConfig())
	obs := tn.observer(port)

	id, err := a.Send(pattern(100), protocol.HubAddress, protocol.TypeData, true, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, id, uint32(protocol.MsgIDMask))

	pkts := heard(t, obs)
	require.Len(t, pkts, 3)
	for i, pkt := range pkts {
		h := pkt.Header
		assert.Equal(t, id, h.MsgID)
		assert.Equal(t, uint8(i), h.FragmentNum)
		assert.Equal(t, uint8(3), h.FragmentTotal)
		assert.Equal(t, protocol.TypeData, h.Type)
		assert.True(t, h.IsMesh)
		assert.Equal(t, protocol.Address(2), h.Origin)
		assert.Equal(t, protocol.Address(2), h.From)
		assert.Equal(t, protocol.HubAddress, h.To)
		assert.Equal(t, uint8(0), h.HopCount)
		assert.Equal(t, uint8(5), h.MaxHops)
		assert.Equal(t, i == 2, h.NeedAck, "only the last fragment asks for an ACK")
	}

	assert.True(t, a.IsAckPending(id))
	s := a.Stats()
	assert.Equal(t, uint64(3), s.Tx)
	assert.Equal(t, 1, s.PendingAcks)
}

func TestSend_EmptyPayloadIsOnePacket(t *testing.T) {
	tn := newTestNet(t)
	a, port := tn.node(2, testConfig())
	obs := tn.observer(port)

	_, err := a.Send(nil, 5, protocol.TypePing, false, 0)
	require.NoError(t, err)

	pkts := heard(t, obs)
	require.Len(t, pkts, 1)
	assert.Equal(t, uint8(1), pkts[0].Header.FragmentTotal)
	assert.Equal(t, 0, a.Stats().PendingAcks)
}

func TestSend_TooLarge(t *testing.T) {
	tn := newTestNet(t)
	a, port := tn.node(2, testConfig())

	_, err := a.Send(make([]byte, protocol.MaxFragments*protocol.MaxPayloadSize+1), 1, protocol.TypeData, true, 0)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Empty(t, port.Sent())
	assert.Equal(t, 0, a.Stats().PendingAcks)
}

func TestSend_InvalidType(t *testing.T) {
	tn := newTestNet(t)
	a, _ := tn.node(2, testConfig())

	_, err := a.Send([]byte("x"), 1, protocol.MsgType(0x3F), false, 0)
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = a.Send([]byte("x"), 1, protocol.TypeAck, false, 0)
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestSend_NotReady(t *testing.T) {
	tn := newTestNet(t)
	a, port := tn.node(2, testConfig())
	port.SetReady(false)

	_, err := a.Send([]byte("hello"), 1, protocol.TypeData, true, 0)
	assert.ErrorIs(t, err, radio.ErrNotReady)

	s := a.Stats()
	assert.Equal(t, uint64(1), s.TxFailed)
	assert.Equal(t, uint64(0), s.Tx)
	assert.Equal(t, 0, s.PendingAcks)
}

func TestSend_FragmentDelayUsesClock(t *testing.T) {
	tn := newTestNet(t)
	a, port := tn.node(2, testConfig())
	obs := tn.observer(port)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := a.Send(pattern(80), 1, protocol.TypeData, false, 100*time.Millisecond)
		assert.NoError(t, err)
	}()

	// The second fragment waits on the mock clock.
	require.Eventually(t, func() bool { return obs.Available() }, time.Second, time.Millisecond)
	assert.Len(t, port.Sent(), 1)

	// Advance until the sleeping sender has registered its timer and woken.
	require.Eventually(t, func() bool {
		tn.clock.Add(100 * time.Millisecond)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, port.Sent(), 2)
}

// ---------------------------------------------------------------------------
// Receive
// ---------------------------------------------------------------------------

func TestPoll_ReassemblesAnyOrder(t *testing.T) {
	tn := newTestNet(t)
	hub, port := tn.node(protocol.HubAddress, testConfig())
	obs := tn.observer(port)

	payload := pattern(100)
	var frames [][]byte
	for i := 0; i < 3; i++ {
		h := header(protocol.TypeSetPrice, 0x00ABCD, 2, protocol.HubAddress)
		h.FragmentNum = uint8(i)
		h.FragmentTotal = 3
		h.NeedAck = i == 2
		end := min((i+1)*40, len(payload))
		frames = append(frames, frame(h, payload[i*40:end]))
	}
	port.Inject(frames[2])
	port.Inject(frames[0])
	port.Inject(frames[1])

	msgs := hub.Poll()
	require.Len(t, msgs, 1)
	assert.Equal(t, payload, msgs[0].Payload)
	assert.Equal(t, protocol.TypeSetPrice, msgs[0].Header.Type)
	assert.Equal(t, protocol.Address(2), msgs[0].Header.Origin)

	// The need_ack flag arrived first; the ACK still goes out.
	acks := heard(t, obs)
	require.Len(t, acks, 1)
	ack := acks[0].Header
	assert.Equal(t, protocol.TypeAck, ack.Type)
	assert.Equal(t, uint32(0x00ABCD), ack.MsgID)
	assert.Equal(t, protocol.HubAddress, ack.Origin)
	assert.Equal(t, protocol.Address(2), ack.To)
	assert.Equal(t, uint8(0), ack.HopCount)
	assert.True(t, ack.IsMesh)

	s := hub.Stats()
	assert.Equal(t, uint64(3), s.Rx)
	assert.Equal(t, uint64(1), s.AcksSent)
	assert.Equal(t, 0, s.Assembling)
}

func TestPoll_TrimsTrailingZeros(t *testing.T) {
	tn := newTestNet(t)
	n, port := tn.node(3, testConfig())

	port.Inject(frame(header(protocol.TypeData, 7, 2, 3), []byte("abc\x00\x00")))

	msgs := n.Poll()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("abc"), msgs[0].Payload)
}

func TestPoll_LegacyFragmentType(t *testing.T) {
	tn := newTestNet(t)
	n, port := tn.node(3, testConfig())

	for i := 0; i < 2; i++ {
		h := header(protocol.TypeFragment, 9, 2, 3)
		h.FragmentNum = uint8(i)
		h.FragmentTotal = 2
		port.Inject(frame(h, bytes.Repeat([]byte{'x'}, 40)))
	}

	msgs := n.Poll()
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].Payload, 80)
	assert.Equal(t, protocol.TypeFragment, msgs[0].Header.Type)
}

func TestPoll_DuplicateDropped(t *testing.T) {
	tn := newTestNet(t)
	n, port := tn.node(3, testConfig())

	f := frame(header(protocol.TypeData, 0x10, 2, 3), []byte("once"))
	port.Inject(f)
	port.Inject(f)

	msgs := n.Poll()
	require.Len(t, msgs, 1)

	s := n.Stats()
	assert.Equal(t, uint64(2), s.Rx)
	assert.Equal(t, uint64(1), s.DroppedDuplicate)
	assert.Equal(t, uint64(0), s.Relayed)
	assert.Equal(t, uint64(0), s.AcksSent)

	port.Inject(f)
	assert.Empty(t, n.Poll())
	assert.Equal(t, uint64(2), n.Stats().DroppedDuplicate)
}

func TestPoll_SeenExpiresAfterTTL(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	n, port := tn.node(3, cfg)

	f := frame(header(protocol.TypeData, 0x10, 2, 3), []byte("again"))
	port.Inject(f)
	require.Len(t, n.Poll(), 1)

	tn.clock.Add(cfg.SeenTTL + time.Second)
	port.Inject(f)
	assert.Len(t, n.Poll(), 1)
	assert.Equal(t, uint64(0), n.Stats().DroppedDuplicate)
}

func TestPoll_OwnEchoDropped(t *testing.T) {
	tn := newTestNet(t)
	a, port := tn.node(2, testConfig())
	obs := tn.observer(port)

	_, err := a.Send([]byte("mine"), 9, protocol.TypeData, false, 0)
	require.NoError(t, err)
	pkts := heard(t, obs)
	require.Len(t, pkts, 1)

	echo := pkts[0]
	echo.Header.HopCount = 1
	echo.Header.From = 3
	port.Inject(protocol.Encode(echo))

	assert.Empty(t, a.Poll())
	s := a.Stats()
	assert.Equal(t, uint64(1), s.DroppedDuplicate)
	assert.Equal(t, uint64(0), s.Relayed)
}

func TestPoll_MalformedFrames(t *testing.T) {
	tn := newTestNet(t)
	n, port := tn.node(3, testConfig())

	port.Inject([]byte{1, 2, 3})
	bad := header(protocol.TypeData, 1, 2, 3)
	bad.FragmentTotal = 0
	port.Inject(frame(bad, nil))

	assert.Empty(t, n.Poll())
	s := n.Stats()
	assert.Equal(t, uint64(2), s.DroppedMalformed)
	assert.Equal(t, uint64(0), s.Rx)
}

func TestPoll_SplitsBurst(t *testing.T) {
	tn := newTestNet(t)
	n, port := tn.node(3, testConfig())

	burst := append(frame(header(protocol.TypeData, 1, 2, 3), []byte("one")),
		frame(header(protocol.TypeData, 2, 2, 3), []byte("two"))...)
	port.Inject(burst)

	msgs := n.Poll()
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].Payload)
	assert.Equal(t, []byte("two"), msgs[1].Payload)
}

func TestPoll_ReturnLimitDefersRest(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.PollReturnLimit = 2
	n, port := tn.node(3, cfg)

	for i := 1; i <= 3; i++ {
		port.Inject(frame(header(protocol.TypeData, uint32(i), 2, 3), []byte{byte(i)}))
	}

	first := n.Poll()
	require.Len(t, first, 2)
	assert.Equal(t, []byte{1}, first[0].Payload)
	assert.Equal(t, []byte{2}, first[1].Payload)
	assert.Equal(t, 1, n.Stats().Queued)

	second := n.Poll()
	require.Len(t, second, 1)
	assert.Equal(t, []byte{3}, second[0].Payload)
	assert.Nil(t, n.Poll())
}

func TestPoll_CompletedQueueDropsOldest(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.CompletedCapacity = 2
	n, port := tn.node(3, cfg)

	for i := 1; i <= 3; i++ {
		port.Inject(frame(header(protocol.TypeData, uint32(i), 2, 3), []byte{byte(i)}))
	}

	msgs := n.Poll()
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte{2}, msgs[0].Payload)
	assert.Equal(t, []byte{3}, msgs[1].Payload)
}

func TestPoll_ReadsBoundedPerCall(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.MaxReadsPerPoll = 2
	n, port := tn.node(3, cfg)

	for i := 1; i <= 3; i++ {
		port.Inject(frame(header(protocol.TypeData, uint32(i), 2, 3), []byte{byte(i)}))
	}

	assert.Len(t, n.Poll(), 2)
	assert.Len(t, n.Poll(), 1)
}

func TestPoll_AssemblyExpires(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	n, port := tn.node(3, cfg)

	h := header(protocol.TypeData, 0x55, 2, 3)
	h.FragmentTotal = 2
	port.Inject(frame(h, bytes.Repeat([]byte{'a'}, 40)))
	assert.Empty(t, n.Poll())
	assert.Equal(t, 1, n.Stats().Assembling)

	tn.clock.Add(cfg.AssemblyTTL + time.Second)
	assert.Empty(t, n.Poll())

	s := n.Stats()
	assert.Equal(t, 0, s.Assembling)
	assert.Equal(t, uint64(1), s.DroppedIncomplete)
}

func TestPoll_AssemblyEvictedWhenFull(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.AssemblyCapacity = 1
	n, port := tn.node(3, cfg)

	for _, id := range []uint32{1, 2} {
		h := header(protocol.TypeData, id, 2, 3)
		h.FragmentTotal = 2
		port.Inject(frame(h, []byte("part")))
	}
	assert.Empty(t, n.Poll())

	s := n.Stats()
	assert.Equal(t, 1, s.Assembling)
	assert.Equal(t, uint64(1), s.DroppedIncomplete)
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

func TestRelay_TTLBoundary(t *testing.T) {
	tn := newTestNet(t)
	r, port := tn.node(3, testConfig())
	obs := tn.observer(port)

	last := header(protocol.TypeData, 0x21, 2, 9)
	last.HopCount = 4
	last.From = 4
	port.Inject(frame(last, []byte("go")))

	spent := header(protocol.TypeData, 0x22, 2, 9)
	spent.HopCount = 5
	port.Inject(frame(spent, []byte("stop")))

	assert.Empty(t, r.Poll(), "unicast for another node is not delivered")

	pkts := heard(t, obs)
	require.Len(t, pkts, 1)
	out := pkts[0].Header
	assert.Equal(t, uint32(0x21), out.MsgID)
	assert.Equal(t, uint8(5), out.HopCount)
	assert.Equal(t, protocol.Address(3), out.From)
	assert.Equal(t, protocol.Address(2), out.Origin)
	assert.Equal(t, protocol.Address(9), out.To)
	assert.Equal(t, []byte("go"), bytes.TrimRight(pkts[0].Payload, "\x00"))

	s := r.Stats()
	assert.Equal(t, uint64(1), s.Relayed)
	assert.Equal(t, uint64(1), s.DroppedTTL)
}

func TestRelay_Disabled(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.RelayEnabled = false
	r, port := tn.node(3, cfg)
	obs := tn.observer(port)

	port.Inject(frame(header(protocol.TypeData, 1, 2, 9), []byte("x")))
	r.Poll()

	assert.Empty(t, heard(t, obs))
	s := r.Stats()
	assert.Equal(t, uint64(0), s.Relayed)
	assert.Equal(t, uint64(0), s.DroppedTTL)
}

func TestRelay_BroadcastDeliveredAndRelayedOnce(t *testing.T) {
	tn := newTestNet(t)
	r, port := tn.node(3, testConfig())
	obs := tn.observer(port)

	bc := header(protocol.TypeData, 0x77, 2, protocol.Broadcast)
	port.Inject(frame(bc, []byte("all")))

	msgs := r.Poll()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("all"), msgs[0].Payload)

	pkts := heard(t, obs)
	require.Len(t, pkts, 1)
	assert.Equal(t, uint8(1), pkts[0].Header.HopCount)
	assert.Equal(t, protocol.Broadcast, pkts[0].Header.To)

	// Another relay's copy of the same packet is a duplicate.
	other := bc
	other.HopCount = 1
	other.From = 4
	port.Inject(frame(other, []byte("all")))
	assert.Empty(t, r.Poll())
	assert.Empty(t, heard(t, obs))

	s := r.Stats()
	assert.Equal(t, uint64(1), s.Relayed)
	assert.Equal(t, uint64(1), s.DroppedDuplicate)
}

func TestRelay_NonMeshBroadcastNotRelayed(t *testing.T) {
	tn := newTestNet(t)
	r, port := tn.node(3, testConfig())
	obs := tn.observer(port)

	bc := header(protocol.TypeData, 0x78, 2, protocol.Broadcast)
	bc.IsMesh = false
	port.Inject(frame(bc, []byte("local")))

	assert.Len(t, r.Poll(), 1)
	assert.Empty(t, heard(t, obs))
}

func TestRelay_ForeignAck(t *testing.T) {
	tn := newTestNet(t)
	r, port := tn.node(3, testConfig())
	obs := tn.observer(port)

	port.Inject(frame(header(protocol.TypeAck, 0x99, 1, 2), nil))
	assert.Empty(t, r.Poll())

	pkts := heard(t, obs)
	require.Len(t, pkts, 1)
	assert.Equal(t, protocol.TypeAck, pkts[0].Header.Type)
	assert.Equal(t, uint8(1), pkts[0].Header.HopCount)
	assert.Equal(t, uint64(0), r.Stats().AcksReceived)
}

func TestRelay_UnknownTypeForwarded(t *testing.T) {
	tn := newTestNet(t)
	r, port := tn.node(3, testConfig())
	obs := tn.observer(port)

	port.Inject(frame(header(protocol.MsgType(9), 0x31, 2, 7), []byte("v2")))
	bc := header(protocol.MsgType(63), 0x32, 2, protocol.Broadcast)
	port.Inject(frame(bc, []byte("v2")))

	assert.Empty(t, r.Poll(), "unknown types are not delivered")

	pkts := heard(t, obs)
	require.Len(t, pkts, 2)
	assert.Equal(t, protocol.MsgType(9), pkts[0].Header.Type)
	assert.Equal(t, uint8(1), pkts[0].Header.HopCount)
	assert.Equal(t, protocol.MsgType(63), pkts[1].Header.Type)

	s := r.Stats()
	assert.Equal(t, uint64(2), s.Relayed)
	assert.Equal(t, uint64(0), s.DroppedMalformed)
	assert.Equal(t, uint64(2), s.Rx)
}

func TestRelay_ChainOfThree(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	a, pa := tn.node(2, cfg)
	r, pr := tn.node(3, cfg)
	hub, ph := tn.node(protocol.HubAddress, cfg)
	tn.medium.Link(pa, pr)
	tn.medium.Link(pr, ph)

	id, err := a.Send([]byte("via relay"), protocol.HubAddress, protocol.TypeData, true, 0)
	require.NoError(t, err)

	assert.Empty(t, r.Poll())
	msgs := hub.Poll()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("via relay"), msgs[0].Payload)
	assert.Equal(t, uint8(1), msgs[0].Header.HopCount)

	// The hub's ACK travels back through the relay.
	assert.Empty(t, r.Poll())
	assert.Empty(t, a.Poll())
	assert.False(t, a.IsAckPending(id))
	assert.Equal(t, uint64(1), a.Stats().AcksReceived)
	assert.Equal(t, uint64(2), r.Stats().Relayed)
}

// ---------------------------------------------------------------------------
// Acknowledgment lifecycle
// ---------------------------------------------------------------------------

func TestAck_HubScenario(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	a, pa := tn.node(2, cfg)
	hub, ph := tn.node(protocol.HubAddress, cfg)
	tn.medium.Link(pa, ph)

	payload := pattern(100)
	id, err := a.Send(payload, protocol.HubAddress, protocol.TypeData, true, 0)
	require.NoError(t, err)

	sent := pa.Sent()
	require.Len(t, sent, 3)
	for i, raw := range sent {
		pkt, err := protocol.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, i == 2, pkt.Header.NeedAck)
	}
	require.True(t, a.IsAckPending(id))

	msgs := hub.Poll()
	require.Len(t, msgs, 1)
	assert.Equal(t, payload, msgs[0].Payload)

	assert.Empty(t, a.Poll())
	assert.False(t, a.IsAckPending(id))

	s := a.Stats()
	assert.Equal(t, uint64(1), s.AcksReceived)
	assert.Equal(t, 0, s.PendingAcks)
	assert.Equal(t, uint64(1), hub.Stats().AcksSent)
}

func TestAck_RetryWithNewIDAndSmallerBudget(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	a, port := tn.node(2, cfg)
	obs := tn.observer(port)

	id, err := a.Send([]byte("are you there"), protocol.HubAddress, protocol.TypeData, true, 0)
	require.NoError(t, err)
	heard(t, obs)

	tn.clock.Add(cfg.AckTimeout)
	a.Poll()
	assert.Empty(t, heard(t, obs), "not overdue at exactly the timeout")

	tn.clock.Add(time.Millisecond)
	a.Poll()

	pkts := heard(t, obs)
	require.Len(t, pkts, 1, "exactly one retransmission")
	newID := pkts[0].Header.MsgID
	assert.NotEqual(t, id, newID)
	assert.True(t, pkts[0].Header.NeedAck)
	assert.Equal(t, []byte("are you there"), bytes.TrimRight(pkts[0].Payload, "\x00"))

	assert.False(t, a.IsAckPending(id))
	assert.True(t, a.IsAckPending(newID))
	p, ok := a.pending.Get(newID)
	require.True(t, ok)
	assert.Equal(t, cfg.MaxRetries-1, p.retries)
	assert.Equal(t, 1, a.Stats().PendingAcks)
}

func TestAck_ExhaustionCountsTimeout(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.MaxRetries = 1
	a, port := tn.node(2, cfg)
	obs := tn.observer(port)

	_, err := a.Send([]byte("x"), protocol.HubAddress, protocol.TypeData, true, 0)
	require.NoError(t, err)
	require.Len(t, heard(t, obs), 1)

	tn.clock.Add(cfg.AckTimeout + time.Millisecond)
	a.Poll()
	require.Len(t, heard(t, obs), 1)

	tn.clock.Add(cfg.AckTimeout + time.Millisecond)
	a.Poll()
	assert.Empty(t, heard(t, obs), "no retransmission once retries are spent")

	tn.clock.Add(cfg.AckTimeout + time.Millisecond)
	a.Poll()
	assert.Empty(t, heard(t, obs))

	s := a.Stats()
	assert.Equal(t, uint64(1), s.Timeouts)
	assert.Equal(t, 0, s.PendingAcks)
	assert.Equal(t, uint64(2), s.Tx)
}

func TestAck_FailedResendKeepsEntry(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	a, port := tn.node(2, cfg)

	id, err := a.Send([]byte("x"), protocol.HubAddress, protocol.TypeData, true, 0)
	require.NoError(t, err)

	port.SetReady(false)
	tn.clock.Add(cfg.AckTimeout + time.Millisecond)
	a.Poll()

	require.True(t, a.IsAckPending(id))
	p, _ := a.pending.Get(id)
	assert.Equal(t, cfg.MaxRetries-1, p.retries)
	assert.Equal(t, uint64(1), a.Stats().TxFailed)
}

func TestAck_NotForMeIgnored(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.RelayEnabled = false
	a, port := tn.node(2, cfg)

	id, err := a.Send([]byte("x"), protocol.HubAddress, protocol.TypeData, true, 0)
	require.NoError(t, err)

	ack := header(protocol.TypeAck, id, protocol.HubAddress, 7)
	port.Inject(frame(ack, nil))
	a.Poll()

	assert.True(t, a.IsAckPending(id))
	assert.Equal(t, uint64(0), a.Stats().AcksReceived)
}
