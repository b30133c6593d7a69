// Package httputil holds the shared upstream HTTP plumbing: the default
// client, response decompression, and SSE line scanning.
package httputil

import (
	"bufio"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// StreamTimeout is the wall clock applied to streaming upstream calls and
// child-process lifetimes.
const StreamTimeout = 120 * time.Second

// NewClient returns the client used for non-streaming upstream calls.
func NewClient() *http.Client {
	return &http.Client{Timeout: StreamTimeout}
}

// NewStreamingClient returns a client without a response timeout; streaming
// callers bound the call with a context deadline instead.
func NewStreamingClient() *http.Client {
	return &http.Client{}
}

// DecompressReader wraps the response body with the decoder matching its
// Content-Encoding. The caller still closes resp.Body.
func DecompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// SSEScanner iterates the data payloads of a server-sent event stream.
// Comment lines and event names are skipped; Next returns false at EOF or on
// a read error.
type SSEScanner struct {
	scanner *bufio.Scanner
	data    string
}

func NewSSEScanner(r io.Reader) *SSEScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	return &SSEScanner{scanner: sc}
}

// Next advances to the next data: line and reports whether one was found.
func (s *SSEScanner) Next() bool {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			s.data = strings.TrimSpace(data)
			return true
		}
	}

	return false
}

// Data returns the payload of the current data line.
func (s *SSEScanner) Data() string { return s.data }

// Err reports a scanning error, if any.
func (s *SSEScanner) Err() error { return s.scanner.Err() }
