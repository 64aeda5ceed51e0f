package protocol

import (
	"encoding/binary"
	"fmt"
)

// shortLengthLimit is the boundary below which a name/value pair's length
// is encoded as a single byte; at or above it, the four-byte long form with
// the high bit set is used.
const shortLengthLimit = 128

// encodeLength appends the length-prefix encoding of size to w: a single
// byte when size < 128, or four big-endian bytes with the top bit of the
// first byte set otherwise.
func encodeLength(w []byte, size int) []byte {
	if size < shortLengthLimit {
		return append(w, byte(size))
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(size)|0x80000000)
	return append(w, buf[:]...)
}

// EncodePair appends the wire encoding of one name/value pair (nlen, vlen,
// name, value) to w and returns the extended slice.
func EncodePair(w []byte, name, value string) []byte {
	w = encodeLength(w, len(name))
	w = encodeLength(w, len(value))
	w = append(w, name...)
	w = append(w, value...)
	return w
}

// EncodePairs encodes an entire map as a sequence of name/value pairs.
// Map iteration order is not significant to the wire format — FastCGI
// PARAMS records are an unordered set of pairs — so callers that need a
// deterministic byte stream (e.g. golden-file tests) should encode a
// single pair at a time via EncodePair instead.
func EncodePairs(pairs map[string]string) []byte {
	var w []byte
	for k, v := range pairs {
		w = EncodePair(w, k, v)
	}
	return w
}

// readLength reads one length field (1 or 4 bytes depending on the high
// bit of the first byte) starting at buf[idx], returning the decoded value
// and the index just past it.
func readLength(buf []byte, idx int) (int, int, error) {
	if idx >= len(buf) {
		return 0, 0, fmt.Errorf("%w: truncated length at offset %d", ErrMalformedParams, idx)
	}
	if buf[idx]&0x80 == 0 {
		return int(buf[idx]), idx + 1, nil
	}
	if idx+4 > len(buf) {
		return 0, 0, fmt.Errorf("%w: truncated long length at offset %d", ErrMalformedParams, idx)
	}
	v := binary.BigEndian.Uint32(buf[idx : idx+4])
	return int(v &^ 0x80000000), idx + 4, nil
}

// DecodePairs parses a buffer of concatenated name/value pairs (the
// content of one or more PARAMS/GET_VALUES records) into a map, merging
// into dst if non-nil. It fails with ErrMalformedParams on any truncation.
func DecodePairs(buf []byte, dst map[string]string) (map[string]string, error) {
	if dst == nil {
		dst = make(map[string]string)
	}

	idx := 0
	for idx < len(buf) {
		nameLen, next, err := readLength(buf, idx)
		if err != nil {
			return nil, err
		}
		idx = next

		valueLen, next, err := readLength(buf, idx)
		if err != nil {
			return nil, err
		}
		idx = next

		if idx+nameLen+valueLen > len(buf) {
			return nil, fmt.Errorf("%w: pair body runs past end of buffer", ErrMalformedParams)
		}

		name := string(buf[idx : idx+nameLen])
		idx += nameLen
		value := string(buf[idx : idx+valueLen])
		idx += valueLen

		dst[name] = value
	}

	return dst, nil
}
