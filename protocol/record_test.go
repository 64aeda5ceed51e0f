package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:       Version1,
		Type:          TypeParams,
		RequestID:     7,
		ContentLength: 42,
		PaddingLength: 6,
	}
	got, err := DecodeHeader(EncodeHeader(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseRecordNeedsMoreData(t *testing.T) {
	_, _, err := ParseRecord(nil)
	assert.ErrorIs(t, err, ErrNeedMoreData)

	partial, err := EncodeRecord(TypeStdin, 1, []byte("hello"))
	require.NoError(t, err)
	_, _, err = ParseRecord(partial[:HeaderLen+2])
	assert.ErrorIs(t, err, ErrNeedMoreData)
}

func TestParseRecordRejectsBadVersion(t *testing.T) {
	h := Header{Version: 9, Type: TypeStdin, RequestID: 1}
	_, _, err := ParseRecord(EncodeHeader(h))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestEncodeParseRecordRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		content []byte
		wantPad uint8
	}{
		{"empty", nil, 0},
		{"one byte", []byte{0x41}, 7},
		{"exactly eight", []byte("12345678"), 0},
		{"max content", make([]byte, MaxContentLength), 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := EncodeRecord(TypeStdout, 3, tc.content)
			require.NoError(t, err)

			rec, consumed, err := ParseRecord(wire)
			require.NoError(t, err)
			assert.Equal(t, len(wire), consumed)
			assert.Equal(t, tc.wantPad, rec.Header.PaddingLength)
			assert.Equal(t, tc.content, rec.Content)
			assert.Equal(t, 0, consumed%8)
		})
	}
}

func TestEncodeRecordRejectsOversizedContent(t *testing.T) {
	_, err := EncodeRecord(TypeStdout, 1, make([]byte, MaxContentLength+1))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestEncodeStreamChunksAtMaxContentLength(t *testing.T) {
	payload := make([]byte, MaxContentLength+100)
	for i := range payload {
		payload[i] = byte(i)
	}

	wire, err := EncodeStream(TypeStdout, 5, payload)
	require.NoError(t, err)

	var got []byte
	offset := 0
	recordCount := 0
	for offset < len(wire) {
		rec, consumed, err := ParseRecord(wire[offset:])
		require.NoError(t, err)
		got = append(got, rec.Content...)
		offset += consumed
		recordCount++
	}
	assert.Equal(t, payload, got)
	assert.Equal(t, 2, recordCount)
}

func TestEncodeStreamEmptyPayloadProducesOneTerminator(t *testing.T) {
	wire, err := EncodeStream(TypeStdout, 1, nil)
	require.NoError(t, err)

	rec, consumed, err := ParseRecord(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), consumed)
	assert.Empty(t, rec.Content)
}

func TestParseRecordMultipleInOneBuffer(t *testing.T) {
	a, err := EncodeRecord(TypeParams, 1, []byte("a=1"))
	require.NoError(t, err)
	b, err := EncodeRecord(TypeParams, 2, []byte("b=2"))
	require.NoError(t, err)

	buf := append(append([]byte{}, a...), b...)

	rec1, n1, err := ParseRecord(buf)
	require.NoError(t, err)
	rec2, n2, err := ParseRecord(buf[n1:])
	require.NoError(t, err)

	assert.Equal(t, uint16(1), rec1.RequestID())
	assert.Equal(t, uint16(2), rec2.RequestID())
	assert.Equal(t, len(buf), n1+n2)
}
