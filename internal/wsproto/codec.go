package wsproto

// Conn wraps a gorilla/websocket connection with the serialized-write
// discipline the retrieved tunnel-server reference uses: a dedicated
// write mutex, since gorilla's Conn permits only one concurrent writer
// but this protocol has a control-message writer and a chunk-pump writer
// sharing the same socket.

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn serializes writes to an underlying *websocket.Conn so control
// messages and binary chunk frames never interleave mid-write.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewConn wraps ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteControl encodes and sends msg as a JSON text frame.
func (c *Conn) WriteControl(msg any) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// WriteChunk sends payload as a single binary frame.
func (c *Conn) WriteChunk(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, payload)
}

// ReadFrame reads the next WS frame and classifies it: for a text frame
// it decodes the control envelope; for a binary frame it returns the raw
// payload with isBinary set. Callers distinguish by isBinary before
// inspecting either return value.
func (c *Conn) ReadFrame() (kind Kind, msg any, payload []byte, isBinary bool, err error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", nil, nil, false, err
	}
	if mt == websocket.BinaryMessage {
		return "", nil, data, true, nil
	}
	kind, msg, err = Decode(data)
	return kind, msg, nil, false, err
}

// SetReadDeadline sets the deadline for future ReadFrame calls, the way a
// caller polling for cancellation between short blocking reads would: a
// read that times out returns an error satisfying net.Error with
// Timeout() true, distinguishable from a genuine connection failure.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// RemoteAddr returns the underlying connection's remote address string.
func (c *Conn) RemoteAddr() string {
	if c.ws == nil {
		return ""
	}
	return c.ws.RemoteAddr().String()
}
