package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/1ureka/loramesh/internal/app"
	"github.com/1ureka/loramesh/internal/protocol"
)

// parseAddress accepts a decimal or 0x-prefixed node id, or the names
// "hub" and "broadcast".
func parseAddress(s string) (protocol.Address, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hub":
		return protocol.HubAddress, nil
	case "broadcast", "all":
		return protocol.Broadcast, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return protocol.Address(v), nil
}

// parseMsgType accepts a type name such as "set_price" or "ping", or its
// numeric value.
func parseMsgType(s string) (protocol.MsgType, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for t := protocol.MsgType(0); t <= protocol.TypeFragment; t++ {
		if t.Valid() && t.String() == name {
			return t, nil
		}
	}
	v, err := strconv.ParseUint(name, 0, 8)
	if err != nil || !protocol.MsgType(v).Valid() {
		return 0, fmt.Errorf("unknown message type %q", s)
	}
	return protocol.MsgType(v), nil
}

// parsePriceVal parses "12", "12.5" or "12.50" into rubles and kopecks.
func parsePriceVal(s string) (app.PriceVal, error) {
	s = strings.TrimSpace(s)
	rubs, kop, hasKop := strings.Cut(s, ".")

	r, err := strconv.Atoi(rubs)
	if err != nil || r < 0 {
		return app.PriceVal{}, fmt.Errorf("invalid price %q", s)
	}
	if !hasKop {
		return app.PriceVal{Rubs: r}, nil
	}
	if len(kop) == 0 || len(kop) > 2 {
		return app.PriceVal{}, fmt.Errorf("invalid price %q", s)
	}
	k, err := strconv.Atoi(kop)
	if err != nil || k < 0 {
		return app.PriceVal{}, fmt.Errorf("invalid price %q", s)
	}
	if len(kop) == 1 {
		k *= 10
	}
	return app.PriceVal{Rubs: r, Kopecks: k}, nil
}
