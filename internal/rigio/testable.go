package rigio

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// TestablePort is an in-memory Port. Each complete request line written to
// it is passed to Respond, and a non-empty reply is queued for reading with a
// trailing newline added. Reads block until a reply is queued or the port is
// closed.
type TestablePort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending bytes.Buffer
	replies bytes.Buffer
	lines   []string

	// Respond computes the reply for a request line. Nil never replies.
	Respond func(line string) string
	// WriteError, when set, fails the next Write.
	WriteError error
	// Closed reports whether Close was called.
	Closed bool
}

// NewTestablePort returns a port answering with respond.
func NewTestablePort(respond func(line string) string) *TestablePort {
	p := &TestablePort{Respond: respond}
	p.cond = sync.NewCond(&p.mu)
	return p
}

var errPortClosed = errors.New("port closed")

// Write records complete request lines and queues their replies.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	p.pending.Write(b)
	for {
		line, err := p.pending.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			p.pending.Reset()
			p.pending.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\r\n")
		p.lines = append(p.lines, line)
		if p.Respond == nil {
			continue
		}
		if reply := p.Respond(line); reply != "" {
			p.replies.WriteString(reply + "\n")
			p.cond.Broadcast()
		}
	}
	return len(b), nil
}

// Read blocks until reply data is available or the port is closed.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.replies.Len() == 0 && !p.Closed {
		p.cond.Wait()
	}
	if p.replies.Len() == 0 {
		return 0, errPortClosed
	}
	return p.replies.Read(b)
}

// Close wakes blocked readers.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// Lines returns the request lines written so far.
func (p *TestablePort) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.lines))
	copy(out, p.lines)
	return out
}
