package wire

import "fmt"

// HandleStatusCode is the dispatcher-level verdict for one handled
// message, independent of the message's own ResultCode payload. It
// tells the TCP server (C8) whether to keep serving the connection, and
// whether the whole accept loop must now stop to let the process reboot.
type HandleStatusCode int

const (
	// StatusUnknownMsg means no handler is registered for the tag;
	// HandleMessage returns an error so the caller closes the
	// connection rather than fabricate a response. This mirrors a
	// TransportError: the peer misbehaved, no repository state changed.
	StatusUnknownMsg HandleStatusCode = -1
	// StatusOK means the handler ran and produced a response normally.
	StatusOK HandleStatusCode = 0
	// StatusRebootRequired means install() returned kNeedCompletion; the
	// server sends the response, closes the connection, and the process
	// must exit so a supervisor can reboot it.
	StatusRebootRequired HandleStatusCode = 1
)

// Handler processes one decoded request message and produces the
// response message to send back, plus a status telling the server how
// to proceed.
type Handler func(req *Message) (resp *Message, status HandleStatusCode, err error)

// Dispatcher routes decoded messages to the handler registered for
// their Tag, mirroring AktualizrSecondaryMsgDispatcher's tag->handler
// map.
type Dispatcher struct {
	handlers map[Tag]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Tag]Handler)}
}

// RegisterHandler installs (or replaces) the handler for tag.
func (d *Dispatcher) RegisterHandler(tag Tag, h Handler) {
	d.handlers[tag] = h
}

// HandleMessage routes req to its registered handler. An unregistered
// tag returns an error and StatusUnknownMsg; the caller (internal/server
// Server.serveConn) closes the connection without sending a response,
// since no repository state was touched.
func (d *Dispatcher) HandleMessage(req *Message) (*Message, HandleStatusCode, error) {
	h, ok := d.handlers[req.Tag]
	if !ok {
		return nil, StatusUnknownMsg, fmt.Errorf("wire: no handler registered for tag %s", req.Tag)
	}
	return h(req)
}
