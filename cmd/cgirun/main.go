// Command cgirun runs the CGI One-Shot Driver against the built-in
// handler: it decodes exactly one request from the process environment
// and standard input, invokes the handler, and writes the response to
// standard output before exiting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-fcgi/fcgiserver/cgi"
	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/config"
	"github.com/go-fcgi/fcgiserver/logging"
	"github.com/go-fcgi/fcgiserver/response"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cgirun",
		Short: "Run the CGI one-shot driver for a single request",
		Long: `cgirun is invoked once per request by a CGI-speaking front-end: it reads
the process environment and standard input, builds a Request via the CGI
Environment Decoder, runs the built-in handler, and flushes the Response
Encoder to standard output before the process exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return cgi.Serve(logger, defaultHandler, os.Stdout)
		},
	}
}

func defaultHandler(req *cgienv.Request, res *response.Response) error {
	return res.Json(map[string]any{
		"method": req.Method,
		"path":   req.Path,
	})
}
