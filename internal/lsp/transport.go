package lsp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Transport moves whole JSON-RPC envelopes between client and server.
// Send and Receive may be called concurrently with each other, but the
// client is the only caller of Receive. Close unblocks a pending Receive.
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// StdioTransport speaks the LSP base protocol over a reader/writer pair,
// framing every message with a Content-Length header. This is the framing
// used when the host launches the server as a child process and wires up
// its stdin/stdout.
type StdioTransport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewStdioTransport creates a transport over the given reader and writer.
// closer may be nil; when set it is closed by Close (typically the server
// process's stdin, which signals shutdown to well-behaved servers).
func NewStdioTransport(r io.Reader, w io.Writer, closer io.Closer) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		closer: closer,
	}
}

// Send writes one framed message.
func (t *StdioTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}
	return nil
}

// Receive reads one framed message, blocking until one arrives.
func (t *StdioTransport) Receive() ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrShutdown
	}

	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if t.closed.Load() {
				return nil, ErrShutdown
			}
			return nil, fmt.Errorf("reading header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
			contentLength = n
		}
		// Content-Type is the only other defined header; ignored.
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("message missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		if t.closed.Load() {
			return nil, ErrShutdown
		}
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// Close marks the transport closed and closes the underlying closer.
func (t *StdioTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
