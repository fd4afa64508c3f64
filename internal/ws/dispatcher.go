package ws

import (
	"log"

	"github.com/gamesf7/lobby/internal/metrics"
	"github.com/gamesf7/lobby/internal/protocol"
)

// FrameHandler is the callback signature for handling a parsed client frame.
// The msg parameter is the concrete struct returned by
// protocol.ParseClientFrame (protocol.AuthFrame, protocol.ChatFrame or
// protocol.TypingFrame).
type FrameHandler func(conn *Connection, msg interface{})

// Dispatcher routes incoming WebSocket frames to registered handlers based
// on the frame type. The lobby protocol has no error frame: malformed
// frames and unknown types are logged and dropped, never answered, so a
// bad frame is invisible to every client including the sender.
type Dispatcher struct {
	handlers map[string]FrameHandler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]FrameHandler),
	}
}

// Register associates a FrameHandler with a frame type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *Dispatcher) Register(frameType string, handler FrameHandler) {
	d.handlers[frameType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw
// bytes into a typed frame and routes it to the registered handler.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	frameType, msg, err := protocol.ParseClientFrame(data)
	if err != nil {
		// Unparseable JSON and unrecognized types share the drop path, but
		// are counted separately: the parser reports the type string for
		// frames whose only problem is an unknown discriminator.
		if frameType != "" {
			log.Printf("ws: ignoring frame with unknown type=%q conn=%s", frameType, conn.ID)
			metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
		} else {
			log.Printf("ws: dropping malformed frame conn=%s: %v", conn.ID, err)
			metrics.FramesDropped.WithLabelValues("parse_error").Inc()
		}
		return
	}

	handler, ok := d.handlers[frameType]
	if !ok {
		log.Printf("ws: no handler registered for frame type=%q conn=%s", frameType, conn.ID)
		return
	}

	handler(conn, msg)
}
