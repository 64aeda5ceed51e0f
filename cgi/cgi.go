// Package cgi implements the CGI One-Shot Driver: reads the process
// environment and standard input, builds the shared Request via cgienv,
// runs the application callback exactly once under the Handler Invocation
// Glue, and flushes the Response Encoder to standard output before the
// process exits.
package cgi

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/handler"
	"github.com/go-fcgi/fcgiserver/response"
)

// Serve runs fn once against the process's own environment and stdin,
// writing the serialized response to out (os.Stdout in production, a
// buffer in tests). It returns only the error encountered decoding the
// request; handler failures are reported through the response itself, per
// the Handler Invocation Glue's contract.
func Serve(logger *zap.Logger, fn handler.Func, out io.Writer) error {
	params := environToParams(os.Environ())

	req, err := cgienv.Decode(params, os.Stdin)
	if err != nil {
		return err
	}

	res := response.New(response.NewCGIWriter(out))
	handler.Invoke(logger, fn, req, res)
	return nil
}

// environToParams turns the "KEY=value" pairs os.Environ returns into the
// same map[string]string shape the FastCGI connection handler assembles
// from PARAMS records, so cgienv.Decode serves both transports identically.
func environToParams(environ []string) map[string]string {
	params := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				params[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return params
}
