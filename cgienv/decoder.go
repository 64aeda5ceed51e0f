package cgienv

import (
	"io"
	"net/url"
	"strconv"
	"strings"
)

// bodyEligibleMethods are the methods for which the decoder actually reads
// the body stream; every other method gets an empty body and a nil parsed
// form, per spec §4.4.
var bodyEligibleMethods = map[string]bool{
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// Decode builds a Request from a CGI/FastCGI parameter map and the
// request's body stream. body may be nil, in which case the request is
// treated as having no body regardless of method.
//
// The same function serves both transports: the CGI one-shot driver passes
// stdin directly; the FastCGI connection handler passes a reader over the
// bytes it already accumulated from STDIN records.
func Decode(params map[string]string, body io.Reader) (*Request, error) {
	req := &Request{
		Method:  strings.ToUpper(params["REQUEST_METHOD"]),
		Headers: extractHeaders(params),
		Params:  params,
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	req.ContentType = req.Headers["content-type"]
	req.URI = params["REQUEST_URI"]
	req.Path = stripQuery(req.URI)
	req.Query = DecodeQuery(params["QUERY_STRING"])
	req.Cookies = DecodeCookies(req.Headers["cookie"])
	req.RemoteAddr = params["REMOTE_ADDR"]

	if err := readBody(req, params, body); err != nil {
		return nil, err
	}

	req.URL = synthesizeURL(req, params)
	return req, nil
}

// extractHeaders builds the lowercase-hyphenated header map from HTTP_*
// parameters plus the two parameters CGI carries outside that prefix.
func extractHeaders(params map[string]string) map[string]string {
	headers := make(map[string]string, len(params))
	for key, value := range params {
		switch {
		case key == "CONTENT_TYPE":
			headers["content-type"] = value
		case key == "CONTENT_LENGTH":
			headers["content-length"] = value
		case strings.HasPrefix(key, "HTTP_"):
			name := strings.ToLower(strings.TrimPrefix(key, "HTTP_"))
			name = strings.ReplaceAll(name, "_", "-")
			headers[name] = value
		}
	}
	return headers
}

// stripQuery removes a `?...` query component from a URI, leaving the path.
func stripQuery(uri string) string {
	if uri == "" {
		return uri
	}
	if i := strings.IndexByte(uri, '?'); i != -1 {
		return uri[:i]
	}
	return uri
}

// readBody applies the method-gated body read policy and the content-type
// dispatch from cgienv/body.go.
func readBody(req *Request, params map[string]string, body io.Reader) error {
	if body == nil || !bodyEligibleMethods[req.Method] {
		return nil
	}

	contentLength, _ := strconv.Atoi(params["CONTENT_LENGTH"])
	if contentLength <= 0 {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(body, int64(contentLength)))
	if err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	req.RawBody = raw
	req.Body = decodeBody(req.ContentType, raw)
	return nil
}

// synthesizeURL builds the *url.URL the spec's URL-synthesis rule describes:
// scheme from HTTPS, host from the Host header/SERVER_NAME/localhost, path
// from the URI/SCRIPT_NAME/"/".
func synthesizeURL(req *Request, params map[string]string) *url.URL {
	scheme := "http"
	if strings.EqualFold(params["HTTPS"], "on") {
		scheme = "https"
	}

	host := req.Headers["host"]
	if host == "" {
		host = params["SERVER_NAME"]
	}
	if host == "" {
		host = "localhost"
	}

	path := req.URI
	if path == "" {
		path = params["SCRIPT_NAME"]
	}
	if path == "" {
		path = "/"
	}

	u := &url.URL{Scheme: scheme, Host: host}
	if rawPath, rawQuery, found := strings.Cut(path, "?"); found {
		u.Path = rawPath
		u.RawQuery = rawQuery
	} else {
		u.Path = path
	}
	return u
}
