package basicpaxos

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrConnectionClosed is returned by Write/ReadNext once Close has
// been called, and by ReadNext when the peer closes its end.
var ErrConnectionClosed = errors.New("basicpaxos: connection closed")

// defaultMaxMessageSize bounds the size prefix ReadNext will honor, so
// a corrupt or hostile peer cannot make a replica allocate an
// unbounded buffer (SPEC_FULL §6 supplement).
const defaultMaxMessageSize = 16 << 20

// Connection is a bidirectional, length-prefixed, reliable message
// channel over one net.Conn. Framing is fixed: a 4-byte unsigned size
// in network byte order, then that many bytes of a JSON-encoded
// Command (spec §4.1, §6).
//
// A Connection may be shared between the heartbeat engine and the
// round state machine; writes are serialized by writeLoop draining a
// single outbound queue FIFO. Only one goroutine at a time may call
// ReadNext, matching the single-driver ownership model of spec §5.
type Connection struct {
	peer Endpoint
	conn net.Conn

	maxMessageSize uint32

	outbox chan Command

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	mu        sync.Mutex
}

// Dial opens a TCP connection to peer. maxMessageSize bounds the size
// prefix this end of the connection will honor on read; 0 means
// defaultMaxMessageSize.
func Dial(peer Endpoint, maxMessageSize uint32) (*Connection, error) {
	conn, err := net.DialTimeout("tcp", peer.String(), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("basicpaxos: dial %s: %w", peer, err)
	}
	return NewConnection(peer, conn, maxMessageSize), nil
}

// NewConnection wraps an already-established net.Conn to peer. Used
// both by Dial and by a Server's accept loop. maxMessageSize of 0
// means defaultMaxMessageSize (SPEC_FULL §6 supplement).
func NewConnection(peer Endpoint, conn net.Conn, maxMessageSize uint32) *Connection {
	if maxMessageSize == 0 {
		maxMessageSize = defaultMaxMessageSize
	}
	c := &Connection{
		peer:           peer,
		conn:           conn,
		maxMessageSize: maxMessageSize,
		outbox:         make(chan Command, 64),
		closed:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Peer returns the identity of the remote end of this connection.
func (c *Connection) Peer() Endpoint { return c.peer }

// Write enqueues a Command for transmission. If the connection is
// idle the writer goroutine picks it up immediately; concurrent
// writers just append to the same outbound queue and the writer drains
// it FIFO (spec §4.1's "coalescing").
func (c *Connection) Write(cmd Command) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.outbox <- cmd:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case cmd := <-c.outbox:
			if err := c.writeFrame(cmd); err != nil {
				c.fail(fmt.Errorf("basicpaxos: transport_error: %w", err))
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) writeFrame(cmd Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if uint32(len(body)) > c.maxMessageSize {
		return fmt.Errorf("basicpaxos: outgoing frame too large (%d bytes)", len(body))
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	_, err = c.conn.Write(body)
	return err
}

// ReadNext blocks until the next fully-received Command arrives, or
// the connection fails/closes. Reads exactly 4 bytes for the size
// prefix, then exactly that many bytes for the body (spec §4.1). A
// clean EOF, or any read after Close, surfaces as ErrConnectionClosed;
// any other read error, including a short read inside a frame
// (io.ErrUnexpectedEOF), closes the connection and is returned as is.
func (c *Connection) ReadNext() (Command, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return Command{}, c.readFailed(err)
	}
	size := binary.BigEndian.Uint32(header)
	if size > c.maxMessageSize {
		err := fmt.Errorf("basicpaxos: incoming frame of %d bytes exceeds limit", size)
		c.fail(err)
		return Command{}, err
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return Command{}, c.readFailed(err)
	}
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		err = fmt.Errorf("basicpaxos: malformed frame: %w", err)
		c.fail(err)
		return Command{}, err
	}
	return cmd, nil
}

func (c *Connection) readFailed(err error) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	if errors.Is(err, io.EOF) {
		c.fail(ErrConnectionClosed)
		return ErrConnectionClosed
	}
	c.fail(fmt.Errorf("basicpaxos: transport_error: %w", err))
	return err
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.mu.Unlock()
	c.Close()
}

// SetDeadline attaches a deadline to the next read/write on the
// underlying socket. Expiry surfaces as a timeout error from ReadNext
// or Write and marks the peer suspect at the caller's discretion.
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// CancelTimeout is invoked on successful receipt of a frame to reset
// any attached deadline (spec §4.1).
func (c *Connection) CancelTimeout() {
	_ = c.conn.SetDeadline(time.Time{})
}

// isClosed reports whether Close has already run.
func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close terminates the channel. All pending reads/writes fail with
// ErrConnectionClosed.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}
