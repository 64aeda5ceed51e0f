// Package protocol implements the wire-level pieces of the FastCGI
// protocol: the fixed record header, record framing (including padding and
// 64KiB content-length chunking), and the variable-length name/value pair
// encoding used by PARAMS and management records.
//
// Everything here is a pure function over byte buffers; nothing in this
// package touches a net.Conn. That keeps it trivially testable and lets
// both the FastCGI connection handler and any future transport reuse it.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version1 is the only FastCGI protocol version this package understands.
const Version1 uint8 = 1

// Record types, per the FastCGI specification section 3.3.
const (
	TypeBeginRequest    uint8 = 1
	TypeAbortRequest    uint8 = 2
	TypeEndRequest      uint8 = 3
	TypeParams          uint8 = 4
	TypeStdin           uint8 = 5
	TypeStdout          uint8 = 6
	TypeStderr          uint8 = 7
	TypeData            uint8 = 8
	TypeGetValues       uint8 = 9
	TypeGetValuesResult uint8 = 10
	TypeUnknownType     uint8 = 11
)

// Roles a BEGIN_REQUEST record may request. The engine only dispatches
// RoleResponder; the others get an UNKNOWN_ROLE reply.
const (
	RoleResponder  uint16 = 1
	RoleAuthorizer uint16 = 2
	RoleFilter     uint16 = 3
)

// Protocol status codes carried in END_REQUEST.
const (
	StatusRequestComplete uint8 = 0
	StatusCantMultiplex   uint8 = 1
	StatusOverloaded      uint8 = 2
	StatusUnknownRole     uint8 = 3
)

// FlagKeepConn is the low bit of a BEGIN_REQUEST's flags byte: when set,
// the front-end may reuse the connection for further requests.
const FlagKeepConn uint8 = 1

// HeaderLen is the fixed size of a record header in bytes.
const HeaderLen = 8

// MaxContentLength is the largest content length a single record may carry;
// emission chunks larger payloads across several records.
const MaxContentLength = 65535

// Sentinel error kinds. Wrapped with context via fmt.Errorf("%w: ...") so
// callers can still errors.Is against these.
var (
	// ErrMalformedRecord signals a bad version or an otherwise impossible
	// header; the caller must drop the connection.
	ErrMalformedRecord = errors.New("protocol: malformed record")

	// ErrMalformedParams signals a truncated name/value pair stream.
	ErrMalformedParams = errors.New("protocol: malformed params")

	// ErrNeedMoreData signals that the buffer holds an incomplete record;
	// it is not a protocol violation, just "come back with more bytes".
	ErrNeedMoreData = errors.New("protocol: need more data")
)

// Header is the fixed-size prefix of every FastCGI record.
type Header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// Record is a fully decoded FastCGI record: header plus its content slice.
// Content aliases the buffer it was decoded from; copy it before retaining
// it across further reads of that buffer.
type Record struct {
	Header  Header
	Content []byte
}

// Type is a convenience accessor mirroring Header.Type.
func (r Record) Type() uint8 { return r.Header.Type }

// RequestID is a convenience accessor mirroring Header.RequestID.
func (r Record) RequestID() uint16 { return r.Header.RequestID }

// EncodeHeader serializes h into an 8-byte big-endian buffer.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], h.ContentLength)
	buf[6] = h.PaddingLength
	buf[7] = h.Reserved
	return buf
}

// DecodeHeader parses the fixed 8-byte record header. It does not validate
// the version; ParseRecord does, since that is the point at which a bad
// version becomes a protocol error rather than a length computation.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrNeedMoreData, len(b))
	}
	return Header{
		Version:       b[0],
		Type:          b[1],
		RequestID:     binary.BigEndian.Uint16(b[2:4]),
		ContentLength: binary.BigEndian.Uint16(b[4:6]),
		PaddingLength: b[6],
		Reserved:      b[7],
	}, nil
}

// ParseRecord attempts to decode one record from the head of buf.
//
// It returns (record, consumed, nil) on success, where consumed is the
// total number of bytes — header + content + padding — that belong to the
// record and may be dropped from the caller's buffer.
//
// If buf holds fewer than HeaderLen bytes, or fewer than the full record
// once the header is known, it returns ErrNeedMoreData and the caller
// should wait for more input rather than treat it as a failure.
func ParseRecord(buf []byte) (Record, int, error) {
	if len(buf) < HeaderLen {
		return Record{}, 0, ErrNeedMoreData
	}

	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		return Record{}, 0, err
	}
	if h.Version != Version1 {
		return Record{}, 0, fmt.Errorf("%w: unsupported version %d", ErrMalformedRecord, h.Version)
	}

	total := HeaderLen + int(h.ContentLength) + int(h.PaddingLength)
	if len(buf) < total {
		return Record{}, 0, ErrNeedMoreData
	}

	contentEnd := HeaderLen + int(h.ContentLength)
	return Record{Header: h, Content: buf[HeaderLen:contentEnd]}, total, nil
}

// paddingFor returns the zero-fill length needed to bring contentLen up to
// the next multiple of 8.
func paddingFor(contentLen int) uint8 {
	return uint8((8 - (contentLen % 8)) % 8)
}

// EncodeRecord serializes a single record (header + content + zero padding)
// for a payload no larger than MaxContentLength. Callers with a larger
// payload must use EncodeStream instead.
func EncodeRecord(recType uint8, requestID uint16, content []byte) ([]byte, error) {
	if len(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: content length %d exceeds %d", ErrMalformedRecord, len(content), MaxContentLength)
	}
	pad := paddingFor(len(content))
	h := Header{
		Version:       Version1,
		Type:          recType,
		RequestID:     requestID,
		ContentLength: uint16(len(content)),
		PaddingLength: pad,
	}

	out := make([]byte, 0, HeaderLen+len(content)+int(pad))
	out = append(out, EncodeHeader(h)...)
	out = append(out, content...)
	if pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	return out, nil
}

// EncodeStream chunks an arbitrarily large payload into records of at most
// MaxContentLength bytes each, in order, WITHOUT appending the zero-length
// terminator record stream protocols (STDOUT, PARAMS) require — callers
// append that themselves via EncodeRecord(recType, id, nil). An empty
// payload is the exception: it yields exactly one zero-length record
// rather than zero records.
func EncodeStream(recType uint8, requestID uint16, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return EncodeRecord(recType, requestID, nil)
	}

	var out []byte
	for offset := 0; offset < len(payload); {
		chunkLen := len(payload) - offset
		if chunkLen > MaxContentLength {
			chunkLen = MaxContentLength
		}
		rec, err := EncodeRecord(recType, requestID, payload[offset:offset+chunkLen])
		if err != nil {
			return nil, err
		}
		out = append(out, rec...)
		offset += chunkLen
	}
	return out, nil
}
