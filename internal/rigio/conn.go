// Package rigio is the request/response transport to the rig services.
//
// Each request is one line, a method name followed by space separated
// arguments. Each response is one line starting with "OK" followed by an
// optional payload, or "ERR" followed by a message. Endpoints are either
// tcp://host:port or a serial device path.
package rigio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

var (
	// ErrRemote wraps error responses from a service.
	ErrRemote = errors.New("remote error")
	// ErrClosed is returned by calls on a closed or abandoned connection.
	ErrClosed = errors.New("connection closed")
	// ErrProtocol is returned for responses that are neither OK nor ERR.
	ErrProtocol = errors.New("malformed response")
)

// Port is the byte stream under a connection.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Conn issues calls over a Port, one at a time.
type Conn struct {
	name   string
	mu     sync.Mutex
	port   Port
	reader *bufio.Reader
	closed bool
}

// NewConn wraps port. name labels the endpoint in errors and logs.
func NewConn(name string, port Port) *Conn {
	return &Conn{name: name, port: port, reader: bufio.NewReader(port)}
}

// Name returns the endpoint label.
func (c *Conn) Name() string {
	return c.name
}

// Call sends method with args and returns the response payload. If ctx ends
// before the response arrives the port is closed, since the stream position
// is then unknown.
func (c *Conn) Call(ctx context.Context, method string, args ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("%s: %w", c.name, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	line := strings.Join(append([]string{method}, args...), " ") + "\n"
	n, err := c.port.Write([]byte(line))
	if err != nil {
		return "", fmt.Errorf("%s: write %s: %w", c.name, method, err)
	}
	if n != len(line) {
		return "", fmt.Errorf("%s: short write for %s", c.name, method)
	}

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		l, err := c.reader.ReadString('\n')
		done <- result{l, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		c.closed = true
		c.port.Close()
		<-done
		return "", ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return "", fmt.Errorf("%s: read %s response: %w", c.name, method, r.err)
	}
	return parseResponse(c.name, method, strings.TrimRight(r.line, "\r\n"))
}

func parseResponse(name, method, line string) (string, error) {
	status, payload, _ := strings.Cut(line, " ")
	switch status {
	case "OK":
		return payload, nil
	case "ERR":
		return "", fmt.Errorf("%s: %s: %w: %s", name, method, ErrRemote, payload)
	default:
		return "", fmt.Errorf("%s: %s: %w: %q", name, method, ErrProtocol, line)
	}
}

// Close closes the port. Further calls return ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

// FormatFloat renders v for use as a call argument.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// SerialOpener opens serial devices. Replaced in tests.
var SerialOpener = func(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Dial connects to endpoint, either tcp://host:port or a serial device path
// (optionally prefixed with serial://).
func Dial(ctx context.Context, endpoint string, opts PortOptions) (*Conn, error) {
	switch {
	case strings.HasPrefix(endpoint, "tcp://"):
		var d net.Dialer
		nc, err := d.DialContext(ctx, "tcp", strings.TrimPrefix(endpoint, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		return NewConn(endpoint, nc), nil
	case endpoint == "":
		return nil, errors.New("empty endpoint")
	default:
		path := strings.TrimPrefix(endpoint, "serial://")
		mode, err := opts.SerialMode()
		if err != nil {
			return nil, err
		}
		port, err := SerialOpener(path, mode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return NewConn(endpoint, port), nil
	}
}
