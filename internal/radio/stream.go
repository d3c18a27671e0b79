package radio

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/1ureka/loramesh/internal/protocol"
)

// maxBurst caps how many bytes one ReceiveRaw call returns. It is a whole
// number of packets so a cut never lands inside a frame.
const maxBurst = 16 * protocol.PacketSize

// StreamConfig tunes a Stream.
type StreamConfig struct {
	// Ready probes the module's readiness line (AUX on the E32). Nil means
	// always ready.
	Ready        func() bool
	ReadyTimeout time.Duration
	// GapTimeout ends a burst once no byte has arrived for this long.
	GapTimeout time.Duration
}

func (c *StreamConfig) withDefaults() StreamConfig {
	out := *c
	if out.ReadyTimeout <= 0 {
		out.ReadyTimeout = DefaultReadyTimeout
	}
	if out.GapTimeout <= 0 {
		out.GapTimeout = DefaultGapTimeout
	}
	return out
}

// Stream adapts a byte stream (a UART, or a ser2net TCP socket in front of
// one) to Transceiver. Packet boundaries are recovered from inter-byte gaps.
type Stream struct {
	rw  io.ReadWriteCloser
	cfg StreamConfig

	chunks chan []byte
	// rest holds bytes past maxBurst for the next ReceiveRaw.
	rest []byte
	wmu  sync.Mutex

	closeOnce sync.Once
}

// NewStream wraps rw and starts its reader goroutine. The goroutine exits
// when rw returns an error, typically after Close.
func NewStream(rw io.ReadWriteCloser, cfg StreamConfig) *Stream {
	s := &Stream{
		rw:     rw,
		cfg:    cfg.withDefaults(),
		chunks: make(chan []byte, DefaultInboxSize),
	}
	go s.readLoop()
	return s
}

// DialStream connects to a TCP serial server (ser2net and friends).
func DialStream(ctx context.Context, addr string, cfg StreamConfig) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial serial server %s: %w", addr, err)
	}
	return NewStream(conn, cfg), nil
}

func (s *Stream) readLoop() {
	defer close(s.chunks)

	buf := make([]byte, 256)
	for {
		n, err := s.rw.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			default:
				// Receiver is not keeping up; the radio would overrun too.
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Stream) waitReady() bool {
	if s.cfg.Ready == nil {
		return true
	}
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	for {
		if s.cfg.Ready() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// SendRaw waits for readiness, then writes data in one call.
func (s *Stream) SendRaw(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if !s.waitReady() {
		return ErrNotReady
	}
	n, err := s.rw.Write(data)
	if err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(data))
	}
	return nil
}

// ReceiveRaw waits up to timeout for the first byte, then keeps collecting
// until the line has been quiet for GapTimeout. A burst longer than maxBurst
// is returned in whole-packet pieces over several calls. ReceiveRaw must not
// be called concurrently.
func (s *Stream) ReceiveRaw(timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	burst := s.rest
	s.rest = nil
	if len(burst) == 0 {
		select {
		case c, ok := <-s.chunks:
			if !ok {
				return nil, ErrClosed
			}
			burst = c
		case <-deadline.C:
			return nil, ErrTimeout
		}
	}

	gap := time.NewTimer(s.cfg.GapTimeout)
	defer gap.Stop()

collect:
	for len(burst) < maxBurst {
		select {
		case c, ok := <-s.chunks:
			if !ok {
				break collect
			}
			burst = append(burst, c...)
			gap.Reset(s.cfg.GapTimeout)
		case <-gap.C:
			break collect
		case <-deadline.C:
			break collect
		}
	}

	if len(burst) > maxBurst {
		s.rest = append([]byte(nil), burst[maxBurst:]...)
		burst = burst[:maxBurst:maxBurst]
	}
	return burst, nil
}

// Available reports whether bytes are waiting.
func (s *Stream) Available() bool {
	return len(s.rest) > 0 || len(s.chunks) > 0
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.rw.Close() })
	return err
}
