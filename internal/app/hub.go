package app

import (
	"time"

	"github.com/1ureka/loramesh/internal/mesh"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/util"
)

type hub struct {
	node          Mesh
	fragmentDelay time.Duration
}

func newHub(node Mesh, fragmentDelay time.Duration) *hub {
	return &hub{node: node, fragmentDelay: fragmentDelay}
}

func (h *hub) handle(msg mesh.Message) {
	from := msg.Header.Origin
	util.LogInfo("[HUB] from %d (%s): %s", from, msg.Header.Type, messageText(msg.Payload))

	switch msg.Header.Type {
	case protocol.TypeSendID:
		util.LogInfo("[HUB] pricer %d online", from)
	case protocol.TypePing:
		if _, err := h.node.Send([]byte("PONG"), from, protocol.TypePong, false, h.fragmentDelay); err != nil {
			util.LogError("[HUB] PONG to %d failed: %v", from, err)
		}
	}
}

func (h *hub) tick(time.Time) {}
