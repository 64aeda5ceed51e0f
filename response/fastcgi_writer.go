package response

import (
	"encoding/binary"

	"github.com/go-fcgi/fcgiserver/protocol"
)

// Sink is however a FastCGIWriter actually puts bytes on the wire. The
// fastcgi package's Conn supplies one that serializes writes through its
// single per-connection output lock, so that one request's response bytes
// never interleave with another's at the byte level even though records
// from different requests may interleave on the connection.
type Sink func(p []byte) error

// FastCGIWriter is the Writer backend for the FastCGI transport: it frames
// the serialized header block and body chunks into STDOUT records (at most
// protocol.MaxContentLength bytes of content each), and on Finish emits the
// zero-length STDOUT terminator followed by a single END_REQUEST record.
type FastCGIWriter struct {
	requestID uint16
	send      Sink
}

// NewFastCGIWriter builds a Writer that frames records for requestID and
// hands the resulting bytes to send.
func NewFastCGIWriter(requestID uint16, send Sink) *FastCGIWriter {
	return &FastCGIWriter{requestID: requestID, send: send}
}

// WriteChunk frames p into one or more STDOUT records and sends them.
func (w *FastCGIWriter) WriteChunk(p []byte) error {
	wire, err := protocol.EncodeStream(protocol.TypeStdout, w.requestID, p)
	if err != nil {
		return err
	}
	return w.send(wire)
}

// Finish emits the empty STDOUT terminator record and a single END_REQUEST
// record carrying app-status 0 and protocol-status REQUEST_COMPLETE, per
// spec §4.5's FastCGI envelope.
func (w *FastCGIWriter) Finish() error {
	terminator, err := protocol.EncodeRecord(protocol.TypeStdout, w.requestID, nil)
	if err != nil {
		return err
	}
	if err := w.send(terminator); err != nil {
		return err
	}

	endBody := make([]byte, 8)
	binary.BigEndian.PutUint32(endBody[0:4], 0) // app-status
	endBody[4] = protocol.StatusRequestComplete
	endRequest, err := protocol.EncodeRecord(protocol.TypeEndRequest, w.requestID, endBody)
	if err != nil {
		return err
	}
	return w.send(endRequest)
}
