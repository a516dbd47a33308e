package server

import (
	"bufio"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// LineConn wraps a client connection as a sequence of complete text lines,
// with automatic write synchronization so concurrent writers (the session's
// writer goroutine and direct feedback from handlers) cannot interleave
// partial lines on the wire.
type LineConn struct {
	t  lineTransport
	mu sync.Mutex // protects writes
}

// lineTransport abstracts the framing differences between stream transports
// (TCP, SSH channels) and message transports (WebSocket).
type lineTransport interface {
	readLine() (string, error)
	writeLine(line string) error
	close() error
	remoteAddr() string
}

// NewLineConn wraps a stream connection (TCP or an SSH channel adapter).
func NewLineConn(conn net.Conn) *LineConn {
	return &LineConn{t: &streamTransport{conn: conn, r: bufio.NewReader(conn)}}
}

// NewWebSocketLineConn wraps a WebSocket connection; each text message is one
// line.
func NewWebSocketLineConn(conn *websocket.Conn) *LineConn {
	return &LineConn{t: &wsTransport{conn: conn}}
}

// ReadLine blocks until a complete line arrives. Trailing CR/LF is stripped.
// Reads don't need write synchronization: only the session's read loop reads.
func (lc *LineConn) ReadLine() (string, error) {
	return lc.t.readLine()
}

// WriteLine sends one line to the client.
func (lc *LineConn) WriteLine(line string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.t.writeLine(line)
}

// Close closes the underlying connection.
func (lc *LineConn) Close() error {
	return lc.t.close()
}

// RemoteAddr returns the remote network address as a string.
func (lc *LineConn) RemoteAddr() string {
	return lc.t.remoteAddr()
}

type streamTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

func (t *streamTransport) readLine() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *streamTransport) writeLine(line string) error {
	_, err := t.conn.Write([]byte(line + "\n"))
	return err
}

func (t *streamTransport) close() error {
	return t.conn.Close()
}

func (t *streamTransport) remoteAddr() string {
	return t.conn.RemoteAddr().String()
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) readLine() (string, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (t *wsTransport) writeLine(line string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}

func (t *wsTransport) remoteAddr() string {
	return t.conn.RemoteAddr().String()
}
