package response

import "io"

// CGIWriter is the Writer backend for the one-shot CGI transport: it
// streams the serialized header block and body chunks directly to an
// io.Writer (standard output in production, a buffer in tests) and has no
// end-of-stream framing to emit.
type CGIWriter struct {
	out io.Writer
}

// NewCGIWriter wraps out as a response.Writer.
func NewCGIWriter(out io.Writer) *CGIWriter {
	return &CGIWriter{out: out}
}

// WriteChunk writes p verbatim to the underlying stream.
func (w *CGIWriter) WriteChunk(p []byte) error {
	_, err := w.out.Write(p)
	return err
}

// Finish is a no-op: CGI has no response terminator beyond process exit.
func (w *CGIWriter) Finish() error {
	return nil
}
