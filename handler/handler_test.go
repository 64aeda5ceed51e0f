package handler

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/response"
)

func newResponse() (*response.Response, *bytes.Buffer) {
	var buf bytes.Buffer
	return response.New(response.NewCGIWriter(&buf)), &buf
}

func TestInvokeSuccessEndsResponse(t *testing.T) {
	res, buf := newResponse()
	req := &cgienv.Request{Method: "GET", Path: "/"}

	Invoke(nil, func(req *cgienv.Request, res *response.Response) error {
		return res.Send("ok")
	}, req, res)

	assert.True(t, res.Finished())
	assert.Contains(t, buf.String(), "ok")
}

func TestInvokeForgottenEndIsClosedByGlue(t *testing.T) {
	res, _ := newResponse()
	req := &cgienv.Request{Method: "GET", Path: "/"}

	Invoke(nil, func(req *cgienv.Request, res *response.Response) error {
		return nil
	}, req, res)

	assert.True(t, res.Finished())
}

func TestInvokeErrorBeforeHeadersSentProduces500(t *testing.T) {
	res, buf := newResponse()
	req := &cgienv.Request{Method: "GET", Path: "/"}

	Invoke(nil, func(req *cgienv.Request, res *response.Response) error {
		return errors.New("boom")
	}, req, res)

	assert.True(t, res.Finished())
	assert.Contains(t, buf.String(), "Status: 500 Internal Server Error\r\n")
	assert.Contains(t, buf.String(), "Internal Server Error: handler: failure: boom")
}

func TestInvokePanicRecovered(t *testing.T) {
	res, buf := newResponse()
	req := &cgienv.Request{Method: "GET", Path: "/"}

	require.NotPanics(t, func() {
		Invoke(nil, func(req *cgienv.Request, res *response.Response) error {
			panic("kaboom")
		}, req, res)
	})

	assert.True(t, res.Finished())
	assert.Contains(t, buf.String(), "Status: 500")
	assert.Contains(t, buf.String(), "kaboom")
}

func TestInvokeErrorAfterHeadersSentDoesNotOverwriteStatus(t *testing.T) {
	res, buf := newResponse()
	req := &cgienv.Request{Method: "GET", Path: "/"}

	Invoke(nil, func(req *cgienv.Request, res *response.Response) error {
		_ = res.Status(201)
		if err := res.Write([]byte("partial")); err != nil {
			return err
		}
		return errors.New("late failure")
	}, req, res)

	assert.Contains(t, buf.String(), "Status: 201 Created\r\n")
	assert.True(t, res.Finished())
}
