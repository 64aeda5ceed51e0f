package fastcgi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/response"
)

func echoHandler(req *cgienv.Request, res *response.Response) error {
	return res.Send("ok")
}

func TestServerAcceptsAndServesOverTCP(t *testing.T) {
	srv := NewServer(Config{Network: "tcp", Address: "127.0.0.1:0", MaxConns: 4, MaxReqs: 4}, echoHandler, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	writeBeginRequest(t, conn, 1, false)
	writeParams(t, conn, 1, map[string]string{"REQUEST_METHOD": "GET"})
	writeStdin(t, conn, 1, nil)

	records := readAllRecords(t, conn, 2*time.Second)
	require.NotEmpty(t, records)

	var sawEnd bool
	for _, r := range records {
		if r.Type() == 3 { // END_REQUEST
			sawEnd = true
		}
	}
	assert.True(t, sawEnd)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()

	shutdownCalled := false
	require.NoError(t, srv.Shutdown(shutdownCtx, func() { shutdownCalled = true }))
	assert.True(t, shutdownCalled)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestServerMaxConnsBackpressure(t *testing.T) {
	block := make(chan struct{})
	slow := func(req *cgienv.Request, res *response.Response) error {
		<-block
		return res.Send(nil)
	}

	srv := NewServer(Config{Network: "tcp", Address: "127.0.0.1:0", MaxConns: 1, MaxReqs: 4}, slow, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.Serve(ctx, ln) }()

	firstConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer firstConn.Close()
	writeBeginRequest(t, firstConn, 1, false)
	writeParams(t, firstConn, 1, nil)
	writeStdin(t, firstConn, 1, nil)

	secondConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer secondConn.Close()

	_ = secondConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 8)
	_, err = secondConn.Read(buf)
	assert.Error(t, err, "second connection should not be served while MaxConns=1 slot is held")

	close(block)
}

func TestServerShutdownBeforeServeIsSafe(t *testing.T) {
	srv := NewServer(DefaultConfig(), echoHandler, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx, nil))
}
