// Package signaling orchestrates the signaling phase of a bridge, from the
// PIN-protected WebSocket rendezvous to an open DataChannel. All SDP/ICE
// details are internal; callers receive a ready-to-use Transport.
package signaling

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/loramesh/internal/transport"
	"github.com/1ureka/loramesh/internal/util"
)

// DefaultPINLength is used when the host is not given a PIN.
const DefaultPINLength = 6

// HostConfig configures the host side of the rendezvous.
type HostConfig struct {
	// Listen is the WebSocket listen address; ":0" picks a random port.
	Listen    string
	PIN       string
	Transport transport.Options
	// OnListen is called once the server is up. Nil prints a banner.
	OnListen func(port int, pin string)
}

// EstablishAsHost executes the full host-side signaling flow:
//  1. Start a WS server and announce its port and PIN
//  2. Wait for the client to connect
//  3. Create a Transport and send the Offer
//  4. Exchange ICE candidates until the DataChannel is open
//  5. Close the WS server and connection
func EstablishAsHost(ctx context.Context, cfg HostConfig) (*transport.Transport, error) {
	if cfg.Listen == "" {
		cfg.Listen = ":0"
	}
	if cfg.PIN == "" {
		pin, err := GeneratePIN(DefaultPINLength)
		if err != nil {
			return nil, err
		}
		cfg.PIN = pin
	}
	if cfg.OnListen == nil {
		cfg.OnListen = printBanner
	}

	srv := NewServer(cfg.PIN)
	port, err := srv.Start(cfg.Listen)
	if err != nil {
		return nil, err
	}
	defer srv.Close()
	cfg.OnListen(port, cfg.PIN)

	wsConn, err := srv.WaitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	util.LogInfo("bridge client connected")

	tr, err := transport.NewTransport(ctx, cfg.Transport)
	if err != nil {
		wsConn.Close()
		return nil, err
	}
	if err := exchange(ctx, wsConn, tr, true); err != nil {
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)
	}
	util.LogSuccess("WebRTC DataChannel established")
	return tr, nil
}

// EstablishAsClient executes the full client-side signaling flow against the
// host's WS URL (including its ?pin= query) and returns the open Transport.
func EstablishAsClient(ctx context.Context, wsURL string, opts transport.Options) (*transport.Transport, error) {
	wsConn, err := Connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	util.LogInfo("WS connected: %s", wsURL)

	tr, err := transport.NewTransport(ctx, opts)
	if err != nil {
		wsConn.Close()
		return nil, err
	}
	if err := exchange(ctx, wsConn, tr, false); err != nil {
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)
	}
	util.LogSuccess("WebRTC DataChannel established")
	return tr, nil
}

func printBanner(port int, pin string) {
	pterm.DefaultBox.WithTitle("Bridge Signaling").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\n\nClient URL: ws://<host>:%d/ws?pin=%s", port, pin, port, pin))
	util.LogInfo("waiting for bridge client...")
}
