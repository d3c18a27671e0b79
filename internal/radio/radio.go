// Package radio defines the transceiver boundary the mesh engine talks to
// and the host-side adapters that implement it.
package radio

import (
	"errors"
	"time"
)

var (
	ErrNotReady   = errors.New("transceiver not ready")
	ErrShortWrite = errors.New("short write")
	ErrTimeout    = errors.New("receive timed out")
	ErrClosed     = errors.New("transceiver closed")
)

// Transceiver is the byte-level radio link.
//
// SendRaw returns nil only if the whole buffer was accepted for transmission
// after the medium signalled readiness within a bounded wait. ReceiveRaw
// returns the bytes of one burst, or ErrTimeout if nothing arrived before
// timeout. Available reports whether received data is waiting.
type Transceiver interface {
	SendRaw(data []byte) error
	ReceiveRaw(timeout time.Duration) ([]byte, error)
	Available() bool
}

// Default timings of the UART-attached LoRa module.
const (
	DefaultReadyTimeout = 1000 * time.Millisecond
	DefaultReadTimeout  = 500 * time.Millisecond
	DefaultGapTimeout   = 50 * time.Millisecond
)
