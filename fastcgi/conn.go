package fastcgi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/handler"
	"github.com/go-fcgi/fcgiserver/protocol"
	"github.com/go-fcgi/fcgiserver/response"
)

// readChunkSize is how much is read from the socket per Conn.Read call;
// the frame codec handles reassembling records that straddle chunks.
const readChunkSize = 32 * 1024

// chunkPool recycles the fixed-size read buffers connections pull off the
// socket, avoiding one allocation per accepted connection under load.
var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, readChunkSize)
		return &b
	},
}

// connOptions carries the knobs a Conn needs from the owning Server —
// broken out from Server itself so Conn stays independently testable with
// a net.Pipe and no listener.
type connOptions struct {
	maxReqs      int
	maxConns     int
	readTimeout  time.Duration
	writeTimeout time.Duration
	handler      handler.Func
	logger       *zap.Logger
}

// Conn owns one accepted transport connection: it frames inbound bytes,
// dispatches records to the Request Assembler, serializes outbound writes,
// and decides when to close the socket.
type Conn struct {
	id   string
	nc   net.Conn
	opts connOptions
	log  *zap.Logger

	inbound []byte
	pending map[uint16]*pendingRequest

	writeMu sync.Mutex

	stateMu        sync.Mutex
	active         int
	closeRequested bool

	wg sync.WaitGroup
}

func newConn(nc net.Conn, opts connOptions) *Conn {
	id := uuid.NewString()
	log := opts.logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		id:      id,
		nc:      nc,
		opts:    opts,
		log:     log.With(zap.String("conn_id", id)),
		pending: make(map[uint16]*pendingRequest),
	}
}

// serve runs the connection's read loop until the socket is closed or a
// connection-level protocol error occurs. It always closes nc before
// returning and waits for any in-flight handler goroutines it started.
func (c *Conn) serve() {
	defer c.nc.Close()
	c.log.Debug("connection accepted", zap.String("remote", c.nc.RemoteAddr().String()))

	bufPtr := chunkPool.Get().(*[]byte)
	buf := *bufPtr
	defer chunkPool.Put(bufPtr)

	for {
		if c.opts.readTimeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.opts.readTimeout))
		}

		n, err := c.nc.Read(buf)
		if n > 0 {
			c.inbound = append(c.inbound, buf[:n]...)
			if !c.drainRecords() {
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				c.log.Warn("transport read failure", zap.Error(fmt.Errorf("%w: %v", ErrTransportFailure, err)))
			}
			break
		}
	}

	c.wg.Wait()
	c.log.Debug("connection closed")
}

// drainRecords extracts and dispatches every complete record currently in
// the inbound buffer. Returns false if a connection-level protocol error
// was hit and the caller should stop reading.
func (c *Conn) drainRecords() bool {
	for {
		rec, consumed, err := protocol.ParseRecord(c.inbound)
		if errors.Is(err, protocol.ErrNeedMoreData) {
			return true
		}
		if err != nil {
			c.log.Warn("malformed record, dropping connection", zap.Error(err))
			return false
		}

		c.inbound = c.inbound[consumed:]
		if !c.handleRecord(rec) {
			return false
		}
	}
}

// handleRecord dispatches one decoded record per spec §4.6. Returns false
// only for connection-level errors that require closing the socket.
func (c *Conn) handleRecord(rec protocol.Record) bool {
	switch rec.Type() {
	case protocol.TypeBeginRequest:
		c.handleBeginRequest(rec)
	case protocol.TypeParams:
		return c.handleStreamRecord(rec, (*pendingRequest).feedParams)
	case protocol.TypeStdin:
		return c.handleStreamRecord(rec, (*pendingRequest).feedStdin)
	case protocol.TypeAbortRequest:
		c.handleAbortRequest(rec)
	case protocol.TypeGetValues:
		c.handleGetValues(rec)
	default:
		c.log.Debug("dropping unhandled record type", zap.Uint8("type", rec.Type()))
	}
	return true
}

func (c *Conn) handleBeginRequest(rec protocol.Record) {
	if len(rec.Content) < 8 {
		c.log.Warn("truncated BEGIN_REQUEST body")
		return
	}
	role := binary.BigEndian.Uint16(rec.Content[0:2])
	flags := rec.Content[2]

	p := newPendingRequest(rec.RequestID(), role, flags)
	c.pending[rec.RequestID()] = p

	if role != protocol.RoleResponder {
		c.log.Warn("rejecting non-responder role", zap.Uint16("role", role))
		p.dispatched = true // never eligible for dispatch
		_ = c.sendEndRequest(rec.RequestID(), 0, protocol.StatusUnknownRole)
	}
}

// handleStreamRecord feeds a PARAMS or STDIN record's content to the
// matching pendingRequest via feed, dispatching it once both streams
// close. A record for an id not in the pending map — never begun, or
// arriving after dispatch — is ErrUnexpectedRecord and closes the
// connection.
func (c *Conn) handleStreamRecord(rec protocol.Record, feed func(*pendingRequest, []byte) error) bool {
	p, ok := c.pending[rec.RequestID()]
	if !ok {
		c.log.Warn("record for unknown request id", zap.Error(ErrUnexpectedRecord), zap.Uint16("request_id", rec.RequestID()))
		return false
	}
	if p.dispatched {
		// Only a rejected (non-responder) request is still in the map with
		// dispatched set: dispatchRequest removes the requests it hands
		// off, so a STDIN after dispatch is caught above as an unknown id.
		// Records for the rejected request are silently ignored.
		return true
	}

	if err := feed(p, rec.Content); err != nil {
		c.log.Warn("malformed params, dropping request", zap.Uint16("request_id", rec.RequestID()), zap.Error(err))
		delete(c.pending, rec.RequestID())
		_ = c.sendEndRequest(rec.RequestID(), 1, protocol.StatusRequestComplete)
		return true
	}

	if p.ready() {
		c.dispatchRequest(p)
	}
	return true
}

func (c *Conn) handleAbortRequest(rec protocol.Record) {
	delete(c.pending, rec.RequestID())
	_ = c.sendEndRequest(rec.RequestID(), 0, protocol.StatusRequestComplete)
}

func (c *Conn) handleGetValues(rec protocol.Record) {
	queried, err := protocol.DecodePairs(rec.Content, nil)
	if err != nil {
		c.log.Warn("malformed GET_VALUES", zap.Error(err))
		return
	}
	result := buildGetValuesResult(queried, c.opts.maxConns, c.opts.maxReqs)
	if err := c.sendRecord(protocol.TypeGetValuesResult, 0, result); err != nil {
		c.log.Warn("failed to send GET_VALUES_RESULT", zap.Error(err))
	}
}

// dispatchRequest hands a fully assembled request to the application
// handler, via the Handler Invocation Glue, on its own goroutine so one
// multiplexed request on this connection never blocks another.
func (c *Conn) dispatchRequest(p *pendingRequest) {
	p.dispatched = true
	delete(c.pending, p.id)

	c.stateMu.Lock()
	c.active++
	c.stateMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.requestDone(p.keepConn)

		req, err := cgienv.Decode(p.params, bytes.NewReader(p.stdin.Bytes()))
		if err != nil {
			c.log.Error("failed to decode request", zap.Error(err))
			_ = c.sendEndRequest(p.id, 1, protocol.StatusRequestComplete)
			return
		}

		res := response.New(response.NewFastCGIWriter(p.id, c.send))
		handler.Invoke(c.log, c.opts.handler, req, res)
	}()
}

// requestDone runs after a dispatched request's response has ended. If
// that request didn't ask to keep the connection alive, the connection is
// closed once every other in-flight request has also finished.
func (c *Conn) requestDone(keepConn bool) {
	c.stateMu.Lock()
	c.active--
	if !keepConn {
		c.closeRequested = true
	}
	shouldClose := c.closeRequested && c.active == 0
	c.stateMu.Unlock()

	if shouldClose {
		_ = c.nc.Close()
	}
}

// send writes p to the connection, serialized against every other writer
// (response bodies, management replies, END_REQUEST records) so bytes for
// a single request never interleave with another write mid-record.
func (c *Conn) send(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}
	_, err := c.nc.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	return nil
}

func (c *Conn) sendRecord(recType uint8, id uint16, content []byte) error {
	wire, err := protocol.EncodeRecord(recType, id, content)
	if err != nil {
		return err
	}
	return c.send(wire)
}

func (c *Conn) sendEndRequest(id uint16, appStatus uint32, protocolStatus uint8) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], appStatus)
	body[4] = protocolStatus
	return c.sendRecord(protocol.TypeEndRequest, id, body)
}
