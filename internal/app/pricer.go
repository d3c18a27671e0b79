package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/1ureka/loramesh/internal/mesh"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/util"
)

type pricer struct {
	node          Mesh
	hubID         protocol.Address
	heartbeat     time.Duration
	fragmentDelay time.Duration
	lastBeat      time.Time

	// current is the last price received; nil until the hub sends one.
	current *PriceData
}

func newPricer(node Mesh, hubID protocol.Address, heartbeat, fragmentDelay time.Duration, now time.Time) *pricer {
	return &pricer{
		node:          node,
		hubID:         hubID,
		heartbeat:     heartbeat,
		fragmentDelay: fragmentDelay,
		lastBeat:      now,
	}
}

func (p *pricer) handle(msg mesh.Message) {
	from := msg.Header.Origin
	util.LogInfo("[PRICER] from %d, type=%s", from, msg.Header.Type)

	switch msg.Header.Type {
	case protocol.TypeSetPrice:
		price, err := ParsePrice(msg.Payload)
		if err != nil {
			util.LogError("[PRICER] %v", err)
			return
		}
		p.current = price
		util.LogSuccess("[PRICER] new price: %s", price.Summary())
	case protocol.TypePing:
		if _, err := p.node.Send([]byte("PONG"), from, protocol.TypePong, false, p.fragmentDelay); err != nil {
			util.LogError("[PRICER] PONG to %d failed: %v", from, err)
		}
	}
}

// tick sends the SEND_ID heartbeat to the hub once per heartbeat interval.
func (p *pricer) tick(now time.Time) {
	if p.heartbeat <= 0 || now.Sub(p.lastBeat) < p.heartbeat {
		return
	}
	p.lastBeat = now

	id := strconv.Itoa(int(p.node.Address()))
	if _, err := p.node.Send([]byte(id), p.hubID, protocol.TypeSendID, false, p.fragmentDelay); err != nil {
		util.LogWarning("[PRICER] heartbeat failed: %v", err)
		return
	}
	util.LogDebug("[PRICER] heartbeat sent")
}

// SendPrice sends price to a pricer as an acknowledged SET_PRICE message
// and returns its msg id.
func SendPrice(node Mesh, to protocol.Address, price *PriceData, fragmentDelay time.Duration) (uint32, error) {
	data, err := json.Marshal(price)
	if err != nil {
		return 0, fmt.Errorf("encode price: %w", err)
	}
	id, err := node.Send(data, to, protocol.TypeSetPrice, true, fragmentDelay)
	if err != nil {
		return 0, fmt.Errorf("send price to %d: %w", to, err)
	}
	util.LogInfo("[HUB] price sent to %d, msg=0x%06X", to, id)
	return id, nil
}
