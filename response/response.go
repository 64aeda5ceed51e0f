// Package response implements the Response Encoder shared by both
// transports: a mutable accumulator (status, headers, cookies, body) plus
// the serialization rules that turn it into the exact byte stream a
// front-end expects. The accumulator itself is transport-agnostic; a
// Writer (CGIWriter or FastCGIWriter, see cgi_writer.go/fastcgi_writer.go)
// decides how the serialized bytes actually leave the process.
package response

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Sentinel errors for programmer mistakes on the Response contract. These
// are never written to the wire; they are returned directly to the caller.
var (
	ErrHeadersSent     = errors.New("response: headers already sent")
	ErrAlreadyFinished = errors.New("response: already finished")
)

// namedContentTypes maps the contentType() shorthand keys to their MIME
// type, mirroring spec §4.5.
var namedContentTypes = map[string]string{
	"html": "text/html; charset=utf-8",
	"text": "text/plain; charset=utf-8",
	"json": "application/json; charset=utf-8",
	"xml":  "application/xml; charset=utf-8",
	"css":  "text/css; charset=utf-8",
	"js":   "application/javascript; charset=utf-8",
}

// reasonPhrases is the built-in status-code → reason-phrase table from
// spec §4.5. Codes outside it get "Unknown".
var reasonPhrases = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// ReasonPhrase returns the built-in reason phrase for code, or "Unknown"
// if code isn't in the table.
func ReasonPhrase(code int) string {
	if phrase, ok := reasonPhrases[code]; ok {
		return phrase
	}
	return "Unknown"
}

// headerValue holds one header's insertion-ordered set of values; a header
// set more than once emits one "Name: value" line per value, in the order
// set.
type headerValue struct {
	canonical string
	values    []string
}

// CookieOptions are the Set-Cookie attributes cookie()/clearCookie() may
// set, per spec §4.5.
type CookieOptions struct {
	MaxAge   *int
	Expires  *time.Time
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite string
}

type cookieEntry struct {
	name  string
	value string
	opts  CookieOptions
}

// Writer is the transport-specific back-end a Response flushes to: one
// implementation streams a plain byte block (CGI), the other frames the
// same bytes into FastCGI records (FastCGI). Both are driven exclusively
// through Response; application code never touches a Writer directly.
type Writer interface {
	// WriteChunk is called once with the full serialized header block on
	// the first Write/End, and again for every subsequent body chunk.
	WriteChunk(p []byte) error

	// Finish is called exactly once, when the response is ended; it must
	// emit whatever stream terminator the transport requires.
	Finish() error
}

// Response is the mutable, transport-agnostic response accumulator
// described in spec §3. Status/header/contentType/cookie may be called any
// number of times until headers are serialized, and fail afterwards;
// write/end/send/json/redirect all trigger serialization on first use.
type Response struct {
	writer Writer

	status  int
	headers []headerValue
	index   map[string]int
	cookies []cookieEntry

	headersSent bool
	finished    bool
}

// New creates a Response with status 200 and no headers, backed by w.
func New(w Writer) *Response {
	return &Response{writer: w, status: 200, index: make(map[string]int)}
}

// Status sets the response status code. Fails with ErrHeadersSent once
// headers have been serialized.
func (r *Response) Status(code int) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	r.status = code
	return nil
}

// Header sets (replacing any prior value) a single response header. Fails
// with ErrHeadersSent once headers have been serialized.
func (r *Response) Header(name, value string) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	if i, ok := r.index[strings.ToLower(name)]; ok {
		r.headers[i].values = []string{value}
		return nil
	}
	r.index[strings.ToLower(name)] = len(r.headers)
	r.headers = append(r.headers, headerValue{canonical: name, values: []string{value}})
	return nil
}

// AddHeader appends an additional value for name without clearing prior
// values, producing multiple "Name: value" lines on serialization.
func (r *Response) AddHeader(name, value string) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	key := strings.ToLower(name)
	if i, ok := r.index[key]; ok {
		r.headers[i].values = append(r.headers[i].values, value)
		return nil
	}
	r.index[key] = len(r.headers)
	r.headers = append(r.headers, headerValue{canonical: name, values: []string{value}})
	return nil
}

// Headers sets many headers at once, in map iteration order (callers that
// need deterministic ordering should call Header repeatedly instead).
func (r *Response) Headers(values map[string]string) error {
	for name, value := range values {
		if err := r.Header(name, value); err != nil {
			return err
		}
	}
	return nil
}

// ContentType sets the Content-Type header, expanding the shorthand keys
// from spec §4.5 (html, text, json, xml, css, js); any other string is
// used verbatim.
func (r *Response) ContentType(key string) error {
	if mime, ok := namedContentTypes[key]; ok {
		return r.Header("Content-Type", mime)
	}
	return r.Header("Content-Type", key)
}

// Cookie appends a Set-Cookie line for name=value with the given options.
func (r *Response) Cookie(name, value string, opts CookieOptions) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	r.cookies = append(r.cookies, cookieEntry{name: name, value: value, opts: opts})
	return nil
}

// ClearCookie appends a Set-Cookie line that expires name immediately.
func (r *Response) ClearCookie(name string, opts CookieOptions) error {
	epoch := time.Unix(0, 0).UTC()
	opts.Expires = &epoch
	return r.Cookie(name, "", opts)
}

// Write serializes the header block (on first call) and appends chunk to
// the body. Fails with ErrAlreadyFinished once the response has ended.
func (r *Response) Write(chunk []byte) error {
	if r.finished {
		return ErrAlreadyFinished
	}
	if !r.headersSent {
		if err := r.sendHeaders(); err != nil {
			return err
		}
	}
	if len(chunk) == 0 {
		return nil
	}
	return r.writer.WriteChunk(chunk)
}

// WriteString is a convenience wrapper around Write for string chunks.
func (r *Response) WriteString(chunk string) error {
	return r.Write([]byte(chunk))
}

// End ensures headers have been serialized and marks the response
// finished. Idempotent: subsequent calls are no-ops that return nil.
func (r *Response) End(chunk []byte) error {
	if r.finished {
		return nil
	}
	if err := r.Write(chunk); err != nil && !errors.Is(err, ErrAlreadyFinished) {
		return err
	}
	r.finished = true
	return r.writer.Finish()
}

// Send dispatches on the type of body per spec §4.5: nil ends with no
// body; a string defaults Content-Type to html if unset; []byte defaults
// to application/octet-stream; any other value is marshaled via Json.
func (r *Response) Send(body any) error {
	switch v := body.(type) {
	case nil:
		return r.End(nil)
	case string:
		if !r.hasContentType() {
			_ = r.ContentType("html")
		}
		return r.End([]byte(v))
	case []byte:
		if !r.hasContentType() {
			_ = r.Header("Content-Type", "application/octet-stream")
		}
		return r.End(v)
	default:
		return r.Json(v)
	}
}

// Json serializes value, sets Content-Type to json and Content-Length to
// the encoded body's byte length, and ends the response.
func (r *Response) Json(value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("response: marshal json: %w", err)
	}
	if err := r.ContentType("json"); err != nil {
		return err
	}
	if err := r.Header("Content-Length", strconv.Itoa(len(encoded))); err != nil {
		return err
	}
	return r.End(encoded)
}

// Redirect sets Location and status (default 302) and ends the response
// with no body.
func (r *Response) Redirect(target string, code ...int) error {
	status := 302
	if len(code) > 0 {
		status = code[0]
	}
	if err := r.Status(status); err != nil {
		return err
	}
	if err := r.Header("Location", target); err != nil {
		return err
	}
	return r.End(nil)
}

// Finished reports whether End has completed.
func (r *Response) Finished() bool { return r.finished }

// HeadersSent reports whether the header block has already been
// serialized.
func (r *Response) HeadersSent() bool { return r.headersSent }

func (r *Response) hasContentType() bool {
	_, ok := r.index["content-type"]
	return ok
}

// sendHeaders serializes and flushes the status/header/cookie block, per
// the format in spec §4.5: a Status line, one line per header value, one
// Set-Cookie line per cookie, then a blank line.
func (r *Response) sendHeaders() error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Status: %d %s\r\n", r.status, ReasonPhrase(r.status))
	for _, h := range r.headers {
		for _, v := range h.values {
			fmt.Fprintf(&buf, "%s: %s\r\n", h.canonical, v)
		}
	}
	for _, c := range r.cookies {
		fmt.Fprintf(&buf, "Set-Cookie: %s\r\n", serializeCookie(c))
	}
	buf.WriteString("\r\n")

	r.headersSent = true
	return r.writer.WriteChunk(buf.Bytes())
}

// serializeCookie builds one Set-Cookie value string per spec §4.5.
func serializeCookie(c cookieEntry) string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(c.name))
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(c.value))

	if c.opts.MaxAge != nil {
		fmt.Fprintf(&b, "; Max-Age=%d", *c.opts.MaxAge)
	}
	if c.opts.Expires != nil {
		fmt.Fprintf(&b, "; Expires=%s", c.opts.Expires.UTC().Format(time.RFC1123))
	}
	if c.opts.Path != "" {
		fmt.Fprintf(&b, "; Path=%s", c.opts.Path)
	}
	if c.opts.Domain != "" {
		fmt.Fprintf(&b, "; Domain=%s", c.opts.Domain)
	}
	if c.opts.Secure {
		b.WriteString("; Secure")
	}
	if c.opts.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if c.opts.SameSite != "" {
		fmt.Fprintf(&b, "; SameSite=%s", c.opts.SameSite)
	}

	return b.String()
}
