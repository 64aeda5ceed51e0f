// Package handler wraps the application's request callback with the
// single uncaught-failure guard and "ensure response ended" post-condition
// spec §4.9 requires, so that neither a panic nor a forgotten res.End()
// call in application code can leave a FastCGI request undispatched or a
// CGI process hanging.
package handler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/response"
)

// Func is the application callback: given a decoded request, it must
// eventually call End (directly or via Send/Json/Redirect) on res.
// Returning an error before doing so is reported as HANDLER_FAILURE.
type Func func(req *cgienv.Request, res *response.Response) error

// ErrHandlerFailure wraps any error or panic value surfaced by a Func, so
// callers can errors.Is against a single sentinel regardless of the
// callback's own error type.
var ErrHandlerFailure = errors.New("handler: failure")

// Invoke runs fn with panic recovery. Post-conditions, applied regardless
// of how fn terminates:
//   - if fn fails (returns an error or panics) and headers have not yet
//     been sent, the response is set to status 500, Content-Type
//     text/plain, with a body of "Internal Server Error: <message>", and
//     the failure is logged;
//   - if fn returns without ending the response, End() is called on it.
//
// The response stream is always left in a terminated state.
func Invoke(logger *zap.Logger, fn Func, req *cgienv.Request, res *response.Response) {
	if logger == nil {
		logger = zap.NewNop()
	}

	err := runGuarded(fn, req, res)

	if err != nil {
		logger.Error("handler failure",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		if !res.HeadersSent() {
			_ = res.Status(500)
			_ = res.ContentType("text")
			_ = res.End([]byte(fmt.Sprintf("Internal Server Error: %s", err)))
			return
		}
	}

	if !res.Finished() {
		_ = res.End(nil)
	}
}

// runGuarded calls fn, converting both a returned error and a recovered
// panic into a single wrapped error.
func runGuarded(fn Func, req *cgienv.Request, res *response.Response) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailure, rec)
		}
	}()

	if callErr := fn(req, res); callErr != nil {
		err = fmt.Errorf("%w: %v", ErrHandlerFailure, callErr)
	}
	return err
}
