// Package fastcgi implements the multiplexed FastCGI protocol engine: the
// per-request Request Assembler state machine, the per-connection record
// dispatcher, and the Server Core that accepts connections and supervises
// them. See package protocol for the underlying wire codec and package
// cgienv/response for the request/response model shared with the CGI
// one-shot driver.
package fastcgi

import (
	"bytes"

	"github.com/go-fcgi/fcgiserver/protocol"
)

// pendingRequest accumulates the state of one in-flight request on one
// connection, per spec §4.3's state table. It is created on BEGIN_REQUEST
// and destroyed either on dispatch, ABORT_REQUEST, or connection close —
// never handed to the application more than once.
type pendingRequest struct {
	id       uint16
	role     uint16
	keepConn bool

	params         map[string]string
	paramsComplete bool

	stdin         bytes.Buffer
	stdinComplete bool

	dispatched bool
}

// newPendingRequest records the role and keep-connection flag carried by a
// BEGIN_REQUEST record's body (role uint16, flags uint8 — the low bit of
// flags is FlagKeepConn).
func newPendingRequest(id uint16, role uint16, flags uint8) *pendingRequest {
	return &pendingRequest{
		id:       id,
		role:     role,
		keepConn: flags&protocol.FlagKeepConn != 0,
		params:   make(map[string]string),
	}
}

// feedParams merges a PARAMS record's content into the accumulated
// parameter map, or — on a zero-length record — marks the params stream
// complete. Returns protocol.ErrMalformedParams on a truncated pair
// stream.
func (p *pendingRequest) feedParams(content []byte) error {
	if len(content) == 0 {
		p.paramsComplete = true
		return nil
	}
	_, err := protocol.DecodePairs(content, p.params)
	return err
}

// feedStdin appends a STDIN record's content to the accumulated body, or —
// on a zero-length record — marks the stdin stream complete.
func (p *pendingRequest) feedStdin(content []byte) error {
	if len(content) == 0 {
		p.stdinComplete = true
		return nil
	}
	_, err := p.stdin.Write(content)
	return err
}

// ready reports whether both streams have been terminated and the request
// has not already been dispatched.
func (p *pendingRequest) ready() bool {
	return p.paramsComplete && p.stdinComplete && !p.dispatched
}
