package netio

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mysqlbouncer/mysqlbouncer/internal/wire"
)

// IOResult is the three-valued outcome of a single non-blocking-flavored
// I/O step, letting internal/session drive a uniform step function over
// a socket instead of branching on raw error values at every call site.
type IOResult int

const (
	// Ready means the requested bytes (or as many as were available)
	// were transferred; the caller should continue.
	Ready IOResult = iota
	// WaitForEvent means no data was available (a read would block) or
	// the send buffer is full; the caller should yield and retry once
	// the socket becomes readable/writable again.
	WaitForEvent
	// Err means the socket failed terminally (EOF, reset, or a deadline
	// that was not a plain would-block timeout).
	Err
)

// pollTimeout bounds how long a single Read/Write call may block before
// reporting WaitForEvent rather than tying up the goroutine indefinitely.
// Go's netpoller makes true non-blocking sockets unnecessary; this
// achieves the same step-function shape the state machine expects.
const pollTimeout = 200 * time.Millisecond

// UnsetLength is the sentinel for "no packet length has been parsed yet"
// (spec's packet_len == UNSET), distinguishing it from a legitimate
// zero-length packet.
const UnsetLength = -1

// Socket wraps a net.Conn with the buffering state §3/§4.2 assigns to a
// connection: raw receive bytes, framed receive packets, outbound
// packets awaiting a write, and the framer's in-progress header state.
type Socket struct {
	conn net.Conn

	RecvRaw    ByteQueue
	RecvFramed PacketQueue
	Send       PacketQueue

	framer *wire.Framer

	seqOut byte

	// PeerCapabilities, DefaultDB, LastChallenge/LastAuthResponse are
	// negotiated per connection and read by internal/session; netio only
	// stores them so they travel with the socket instead of a separate
	// side table.
	PeerCapabilities uint32
	DefaultDB        string
	LastChallenge    []byte
	LastAuthResponse []byte

	// assembling accumulates a logical packet's bytes across a run of
	// maximal (More) frames, so RecvFramed only ever holds whole logical
	// packets, never a 16 MiB slice the caller must stitch together
	// itself.
	assembling []byte
}

// NewSocket wraps conn for step-function I/O.
func NewSocket(conn net.Conn) *Socket {
	return &Socket{
		conn:   conn,
		framer: wire.NewFramer(),
	}
}

// Conn returns the underlying net.Conn, for callers that need address
// information or to hand the socket off to TLS, etc.
func (s *Socket) Conn() net.Conn {
	return s.conn
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// ReadStep performs one bounded read into the raw receive queue and
// attempts to extract whole frames into RecvFramed. It never blocks
// longer than pollTimeout.
func (s *Socket) ReadStep() IOResult {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return Err
	}
	buf := make([]byte, 16*1024)
	n, err := s.conn.Read(buf)
	if n > 0 {
		s.RecvRaw.Append(buf[:n])
		s.drainFrames()
	}
	if err != nil {
		if isTimeout(err) {
			if n > 0 {
				return Ready
			}
			return WaitForEvent
		}
		return Err
	}
	return Ready
}

// drainFrames extracts whole wire frames from the raw receive queue and
// stitches any run of maximal (More) frames back into the single logical
// packet they represent (§3's ">16 MiB split across consecutive maximal
// frames, terminated by a non-maximal one") before handing it to
// RecvFramed — callers never see a bare 16 MiB chunk.
func (s *Socket) drainFrames() {
	for {
		chunk := s.RecvRaw.PeekN(s.RecvRaw.Len())
		s.framer.Feed(chunk)
		s.RecvRaw.Discard(len(chunk))

		frame, ok, err := s.framer.Next()
		if err != nil || !ok {
			return
		}
		if frame.More {
			s.assembling = append(s.assembling, frame.Payload...)
			continue
		}
		if s.assembling != nil {
			s.assembling = append(s.assembling, frame.Payload...)
			s.RecvFramed.Push(s.assembling)
			s.assembling = nil
		} else {
			s.RecvFramed.Push(frame.Payload)
		}
	}
}

// NextFrame pops the next whole framed payload, if any.
func (s *Socket) NextFrame() (payload []byte, ok bool) {
	return s.RecvFramed.Pop()
}

// QueueSend frames payload (splitting at the 16 MiB boundary as needed)
// and appends the resulting wire bytes to the send queue.
func (s *Socket) QueueSend(payload []byte) {
	framed, next := wire.EncodeFrame(payload, s.seqOut)
	s.seqOut = next
	s.Send.Push(framed)
}

// ResetSeq resets the outbound sequence id, used at the start of each
// new command phase per §4.1.
func (s *Socket) ResetSeq() {
	s.seqOut = 0
}

// SetSeq forces the outbound sequence id to n. internal/session uses this
// to keep both the client-bound and server-bound sockets advancing
// through a single shared per-exchange counter (the wire protocol numbers
// a whole request/response exchange with one sequence, not one per
// direction), rather than relying on each Socket's own independent
// auto-increment.
func (s *Socket) SetSeq(n byte) {
	s.seqOut = n
}

// WriteStep writes as much of the head of the send queue as the socket
// will accept in one bounded call.
func (s *Socket) WriteStep() IOResult {
	data, ok := s.Send.Peek()
	if !ok {
		return Ready
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(pollTimeout)); err != nil {
		return Err
	}
	n, err := s.conn.Write(data)
	if n == len(data) {
		s.Send.Pop()
	} else if n > 0 {
		s.Send.items[0] = data[n:]
	}
	if err != nil {
		if isTimeout(err) {
			return WaitForEvent
		}
		return Err
	}
	return Ready
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// dialTimeout bounds CONNECT_SERVER, matching the teacher's
// pool.TenantPool.dialTimeout field.
const dialTimeout = 5 * time.Second

// keepAlive matches the teacher's dialer keep-alive interval.
const keepAlive = 30 * time.Second

// Dial opens a backend connection, applying TCP_NODELAY and keep-alive
// the way the teacher's TenantPool.dial constructs its net.Dialer.
func Dial(addr string) (*Socket, error) {
	dialer := net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlive)
	}
	return NewSocket(conn), nil
}

// Bind starts listening on addr ("host:port", "[::1]:port", or a
// "unix:/path/to.sock" pseudo-scheme for Unix-domain sockets), defaulting
// to port 3306 when addr carries no port at all.
func Bind(addr string) (net.Listener, error) {
	network, address := "tcp", addr
	if len(addr) > 5 && addr[:5] == "unix:" {
		network, address = "unix", addr[5:]
	} else if _, _, err := net.SplitHostPort(addr); err != nil {
		address = net.JoinHostPort(addr, "3306")
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("netio: listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Accept wraps ln.Accept, applying the same TCP_NODELAY/keep-alive
// tuning as Dial to accepted client connections.
func Accept(ln net.Listener) (*Socket, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlive)
	}
	return NewSocket(conn), nil
}
