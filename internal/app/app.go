// Package app runs the hub and pricer behaviour on top of a mesh node.
package app

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"

	"github.com/1ureka/loramesh/internal/config"
	"github.com/1ureka/loramesh/internal/ether"
	"github.com/1ureka/loramesh/internal/mesh"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/radio"
	"github.com/1ureka/loramesh/internal/util"
)

// Mesh is the part of *mesh.Node the application uses.
type Mesh interface {
	Send(payload []byte, to protocol.Address, typ protocol.MsgType, needAck bool, fragmentDelay time.Duration) (uint32, error)
	Poll() []mesh.Message
	Address() protocol.Address
}

// role reacts to delivered messages and to the passage of time.
type role interface {
	handle(msg mesh.Message)
	tick(now time.Time)
}

// Run drives node every cfg.App.PollInterval until ctx is cancelled. A
// failing or panicking iteration is logged and the loop continues.
func Run(ctx context.Context, cfg *config.Config, node Mesh, clk clock.Clock) error {
	if clk == nil {
		clk = clock.New()
	}

	var r role
	switch cfg.ResolvedRole() {
	case config.RoleHub:
		r = newHub(node, cfg.Mesh.FragmentDelay)
	case config.RolePricer:
		r = newPricer(node, cfg.Node.HubID, cfg.App.HeartbeatInterval, cfg.Mesh.FragmentDelay, clk.Now())
	default:
		return fmt.Errorf("unsupported role %q", cfg.App.Role)
	}
	util.LogSuccess("[%s] ready, id=%d", cfg.ResolvedRole(), node.Address())

	ticker := clk.Ticker(cfg.App.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			step(node, r, clk.Now())
		}
	}
}

func step(node Mesh, r role, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			util.LogError("loop iteration panicked: %v", p)
		}
	}()

	for _, msg := range node.Poll() {
		r.handle(msg)
	}
	r.tick(now)
}

// OpenTransceiver connects the radio adapter selected by cfg.Kind. The
// returned close function releases it.
func OpenTransceiver(ctx context.Context, cfg config.Radio) (radio.Transceiver, func() error, error) {
	switch cfg.Kind {
	case config.RadioEther:
		c, err := ether.Dial(ctx, cfg.URL, cfg.ReadyTimeout)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil

	case config.RadioStream:
		s, err := radio.DialStream(ctx, cfg.Address, radio.StreamConfig{
			ReadyTimeout: cfg.ReadyTimeout,
			GapTimeout:   cfg.GapTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown radio kind %q", cfg.Kind)
}

// messageText renders a payload for logs, cut to fit one line.
func messageText(data []byte) string {
	const maxLen = 50
	if len(data) <= maxLen {
		return string(data)
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + "…"
}
