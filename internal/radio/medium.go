package radio

import (
	"sync"
	"time"
)

// Medium is an in-memory shared air. Ports attached to it hear the frames
// transmitted by the ports they are linked to, never their own.
type Medium struct {
	mu    sync.Mutex
	ports []*Port
	links map[*Port]map[*Port]bool
}

// NewMedium creates an empty medium.
func NewMedium() *Medium {
	return &Medium{links: make(map[*Port]map[*Port]bool)}
}

// Attach adds a new port with no links.
func (m *Medium) Attach(name string) *Port {
	p := &Port{
		name:   name,
		medium: m,
		inbox:  NewInbox(DefaultInboxSize),
		ready:  true,
	}

	m.mu.Lock()
	m.ports = append(m.ports, p)
	m.links[p] = make(map[*Port]bool)
	m.mu.Unlock()
	return p
}

// Link makes a and b hear each other.
func (m *Medium) Link(a, b *Port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[a][b] = true
	m.links[b][a] = true
}

// Unlink cuts the link between a and b.
func (m *Medium) Unlink(a, b *Port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links[a], b)
	delete(m.links[b], a)
}

// LinkAll links every pair of attached ports.
func (m *Medium) LinkAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.ports {
		for _, b := range m.ports {
			if a != b {
				m.links[a][b] = true
			}
		}
	}
}

func (m *Medium) broadcast(from *Port, frame []byte) {
	m.mu.Lock()
	var targets []*Port
	for p := range m.links[from] {
		targets = append(targets, p)
	}
	m.mu.Unlock()

	for _, p := range targets {
		p.inbox.Push(frame)
	}
}

// Port is one radio attached to a Medium. It implements Transceiver.
type Port struct {
	name   string
	medium *Medium
	inbox  *Inbox

	mu    sync.Mutex
	ready bool
	sent  [][]byte
}

// Name returns the label given at Attach.
func (p *Port) Name() string { return p.name }

// SetReady toggles the simulated readiness line. A port that is not ready
// rejects SendRaw with ErrNotReady.
func (p *Port) SetReady(ready bool) {
	p.mu.Lock()
	p.ready = ready
	p.mu.Unlock()
}

// SendRaw transmits data to every linked port.
func (p *Port) SendRaw(data []byte) error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return ErrNotReady
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	p.sent = append(p.sent, frame)
	p.mu.Unlock()

	p.medium.broadcast(p, frame)
	return nil
}

// ReceiveRaw pops the next frame heard by this port.
func (p *Port) ReceiveRaw(timeout time.Duration) ([]byte, error) {
	return p.inbox.Pop(timeout)
}

// Available reports whether a frame is waiting.
func (p *Port) Available() bool {
	return p.inbox.Len() > 0
}

// Inject queues a frame as if it had been heard on the air.
func (p *Port) Inject(frame []byte) {
	p.inbox.Push(frame)
}

// Sent returns a copy of every frame this port transmitted.
func (p *Port) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	for i, f := range p.sent {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// ResetSent clears the transmit log.
func (p *Port) ResetSent() {
	p.mu.Lock()
	p.sent = nil
	p.mu.Unlock()
}
