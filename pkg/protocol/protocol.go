// Package protocol implements the GoStep wire formats: newline-delimited text
// lines for the lobby phase and count-prefixed fixed-size command records for
// the lockstep phase. Both phases share one Transport per connection.
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	// MaxLineLength bounds a single lobby line (excluding the terminator).
	MaxLineLength = 4096

	// PlayerIDSize is the size of the optional player-id handshake.
	PlayerIDSize = 4

	readBufferSize = 4096
)

var (
	ErrLineTooLong = errors.New("protocol: line too long")
)

// Transport wraps a connection with a read buffer that survives the switch
// from text to binary framing, so bytes that arrived early are never lost.
//
// A Transport is not safe for concurrent writers; callers serialize sends.
type Transport struct {
	conn        net.Conn
	r           *bufio.Reader
	idleTimeout time.Duration
}

// NewTransport wraps conn.
func NewTransport(conn net.Conn) *Transport {
	return &Transport{
		conn: conn,
		r:    bufio.NewReaderSize(conn, readBufferSize),
	}
}

// SetIdleTimeout bounds every subsequent blocking read. Zero disables it.
func (t *Transport) SetIdleTimeout(d time.Duration) {
	t.idleTimeout = d
}

// Conn returns the underlying connection.
func (t *Transport) Conn() net.Conn { return t.conn }

// RemoteAddr returns the peer address as a string.
func (t *Transport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) armRead(timeout time.Duration) {
	if timeout <= 0 {
		timeout = t.idleTimeout
	}
	if timeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(timeout))
	}
}

func (t *Transport) disarmRead() {
	_ = t.conn.SetReadDeadline(time.Time{})
}

// ReadLine blocks until a complete '\n'-terminated line is available and
// returns it without the terminator (a trailing '\r' is also dropped).
// Fragments are buffered across reads; a line cut short by EOF is discarded
// and reported as the read error.
func (t *Transport) ReadLine() (string, error) {
	t.armRead(0)
	var line []byte
	for {
		frag, err := t.r.ReadSlice('\n')
		if len(line)+len(frag) > MaxLineLength+2 {
			return "", ErrLineTooLong
		}
		line = append(line, frag...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// WriteLine sends s followed by '\n'. net.Conn writes either complete or
// fail, so a nil error means the whole line was handed to the kernel.
func (t *Transport) WriteLine(s string) error {
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)
	buf = append(buf, '\n')
	if _, err := t.conn.Write(buf); err != nil {
		return fmt.Errorf("protocol: write line: %w", err)
	}
	return nil
}

// ReadAck consumes one arbitrary inbound payload: it blocks until at least
// one byte is available, then discards everything buffered. The content is
// ignored; only its arrival matters. timeout <= 0 falls back to the idle
// timeout (none by default).
func (t *Transport) ReadAck(timeout time.Duration) error {
	t.armRead(timeout)
	defer t.disarmRead()
	if _, err := t.r.Peek(1); err != nil {
		return fmt.Errorf("protocol: read ack: %w", err)
	}
	if _, err := t.r.Discard(t.r.Buffered()); err != nil {
		return fmt.Errorf("protocol: read ack: %w", err)
	}
	return nil
}

// Alive reports whether the peer is still connected, without consuming any
// input. Pending input counts as alive.
func (t *Transport) Alive() bool {
	if t.r.Buffered() > 0 {
		return true
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := t.r.Peek(1)
	t.disarmRead()
	if err == nil {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// WritePlayerID sends the 4-byte player index handshake.
func (t *Transport) WritePlayerID(id uint32) error {
	var b [PlayerIDSize]byte
	binary.LittleEndian.PutUint32(b[:], id)
	if _, err := t.conn.Write(b[:]); err != nil {
		return fmt.Errorf("protocol: write player id: %w", err)
	}
	return nil
}

// ReadPlayerID reads the 4-byte player index handshake.
func (t *Transport) ReadPlayerID() (uint32, error) {
	t.armRead(0)
	var b [PlayerIDSize]byte
	if _, err := io.ReadFull(t.r, b[:]); err != nil {
		return 0, fmt.Errorf("protocol: read player id: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
