package fastcgi

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/protocol"
	"github.com/go-fcgi/fcgiserver/response"
)

// writeBeginRequest writes a BEGIN_REQUEST record for id with role
// Responder and the given keep-connection flag.
func writeBeginRequest(t *testing.T, conn net.Conn, id uint16, keepConn bool) {
	t.Helper()
	var flags uint8
	if keepConn {
		flags = protocol.FlagKeepConn
	}
	body := make([]byte, 8)
	body[0] = byte(protocol.RoleResponder >> 8)
	body[1] = byte(protocol.RoleResponder)
	body[2] = flags

	wire, err := protocol.EncodeRecord(protocol.TypeBeginRequest, id, body)
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)
}

func writeParams(t *testing.T, conn net.Conn, id uint16, pairs map[string]string) {
	t.Helper()
	wire, err := protocol.EncodeRecord(protocol.TypeParams, id, protocol.EncodePairs(pairs))
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)

	terminator, err := protocol.EncodeRecord(protocol.TypeParams, id, nil)
	require.NoError(t, err)
	_, err = conn.Write(terminator)
	require.NoError(t, err)
}

func writeStdin(t *testing.T, conn net.Conn, id uint16, body []byte) {
	t.Helper()
	if len(body) > 0 {
		wire, err := protocol.EncodeRecord(protocol.TypeStdin, id, body)
		require.NoError(t, err)
		_, err = conn.Write(wire)
		require.NoError(t, err)
	}
	terminator, err := protocol.EncodeRecord(protocol.TypeStdin, id, nil)
	require.NoError(t, err)
	_, err = conn.Write(terminator)
	require.NoError(t, err)
}

func readAllRecords(t *testing.T, conn net.Conn, deadline time.Duration) []protocol.Record {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(deadline))

	var buf []byte
	var records []protocol.Record
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				rec, consumed, perr := protocol.ParseRecord(buf)
				if perr != nil {
					break
				}
				records = append(records, rec)
				buf = buf[consumed:]
			}
		}
		if err != nil {
			break
		}
	}
	return records
}

func startTestConn(t *testing.T, fn func(req *cgienv.Request, res *response.Response) error) net.Conn {
	t.Helper()
	client, server := net.Pipe()

	c := newConn(server, connOptions{maxReqs: 100, maxConns: 100, handler: fn})
	go c.serve()

	t.Cleanup(func() { client.Close() })
	return client
}

func TestSimpleGetDispatch(t *testing.T) {
	client := startTestConn(t, func(req *cgienv.Request, res *response.Response) error {
		return res.Json(map[string]string{"message": "hi"})
	})

	writeBeginRequest(t, client, 1, false)
	writeParams(t, client, 1, map[string]string{
		"REQUEST_METHOD": "GET",
		"REQUEST_URI":    "/test?name=world",
		"QUERY_STRING":   "name=world",
		"HTTP_HOST":      "localhost",
	})
	writeStdin(t, client, 1, nil)

	records := readAllRecords(t, client, 2*time.Second)
	require.NotEmpty(t, records)

	var body []byte
	var sawEnd bool
	for _, r := range records {
		if r.Type() == protocol.TypeStdout {
			body = append(body, r.Content...)
		}
		if r.Type() == protocol.TypeEndRequest {
			sawEnd = true
		}
	}

	assert.True(t, sawEnd)
	assert.Contains(t, string(body), "Status: 200 OK\r\n")
	assert.Contains(t, string(body), `{"message":"hi"}`)
}

func TestAbortRequestDropsWithoutDispatch(t *testing.T) {
	dispatched := false
	client := startTestConn(t, func(req *cgienv.Request, res *response.Response) error {
		dispatched = true
		return res.Send(nil)
	})

	writeBeginRequest(t, client, 1, false)
	wire, err := protocol.EncodeRecord(protocol.TypeParams, 1, protocol.EncodePair(nil, "A", "1"))
	require.NoError(t, err)
	_, err = client.Write(wire)
	require.NoError(t, err)

	abort, err := protocol.EncodeRecord(protocol.TypeAbortRequest, 1, nil)
	require.NoError(t, err)
	_, err = client.Write(abort)
	require.NoError(t, err)

	records := readAllRecords(t, client, time.Second)
	require.Len(t, records, 1)
	assert.Equal(t, protocol.TypeEndRequest, records[0].Type())
	assert.Equal(t, protocol.StatusRequestComplete, records[0].Content[4])
	assert.False(t, dispatched)
}

func TestMultiplexedRequestsOnOneConnection(t *testing.T) {
	client := startTestConn(t, func(req *cgienv.Request, res *response.Response) error {
		return res.Send(req.Params["ID"])
	})

	writeBeginRequest(t, client, 1, true)
	writeBeginRequest(t, client, 2, true)

	wire1, _ := protocol.EncodeRecord(protocol.TypeParams, 1, protocol.EncodePairs(map[string]string{"ID": "one"}))
	wire2, _ := protocol.EncodeRecord(protocol.TypeParams, 2, protocol.EncodePairs(map[string]string{"ID": "two"}))
	_, _ = client.Write(wire1)
	_, _ = client.Write(wire2)

	writeParams(t, client, 1, nil)
	writeStdin(t, client, 1, nil)
	writeParams(t, client, 2, nil)
	writeStdin(t, client, 2, nil)

	records := readAllRecords(t, client, 2*time.Second)

	endCount := 0
	bodies := map[uint16][]byte{}
	for _, r := range records {
		if r.Type() == protocol.TypeEndRequest {
			endCount++
		}
		if r.Type() == protocol.TypeStdout {
			bodies[r.RequestID()] = append(bodies[r.RequestID()], r.Content...)
		}
	}

	assert.Equal(t, 2, endCount)
	assert.Contains(t, string(bodies[1]), "one")
	assert.Contains(t, string(bodies[2]), "two")
}

func TestUnknownRoleRepliesUnknownRole(t *testing.T) {
	client := startTestConn(t, func(req *cgienv.Request, res *response.Response) error {
		t.Fatal("handler must not be invoked for a non-responder role")
		return nil
	})

	body := make([]byte, 8)
	body[0] = byte(protocol.RoleFilter >> 8)
	body[1] = byte(protocol.RoleFilter)
	wire, err := protocol.EncodeRecord(protocol.TypeBeginRequest, 1, body)
	require.NoError(t, err)
	_, err = client.Write(wire)
	require.NoError(t, err)

	records := readAllRecords(t, client, time.Second)
	require.Len(t, records, 1)
	assert.Equal(t, protocol.TypeEndRequest, records[0].Type())
	assert.Equal(t, protocol.StatusUnknownRole, records[0].Content[4])
}

func TestGetValuesResult(t *testing.T) {
	client := startTestConn(t, nil)

	queried := protocol.EncodePairs(map[string]string{
		"FCGI_MAX_CONNS":  "",
		"FCGI_MAX_REQS":   "",
		"FCGI_MPXS_CONNS": "",
	})
	wire, err := protocol.EncodeRecord(protocol.TypeGetValues, 0, queried)
	require.NoError(t, err)
	_, err = client.Write(wire)
	require.NoError(t, err)

	records := readAllRecords(t, client, time.Second)
	require.Len(t, records, 1)
	assert.Equal(t, protocol.TypeGetValuesResult, records[0].Type())

	answers, err := protocol.DecodePairs(records[0].Content, nil)
	require.NoError(t, err)
	assert.Equal(t, "100", answers["FCGI_MAX_CONNS"])
	assert.Equal(t, "100", answers["FCGI_MAX_REQS"])
	assert.Equal(t, "1", answers["FCGI_MPXS_CONNS"])
}
