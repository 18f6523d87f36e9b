package lsp

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"skiff/internal/config"
	"skiff/internal/log"
)

const defaultDebounce = 500 * time.Millisecond

// SyncStrategy selects how buffered edits are reported to the server.
type SyncStrategy int

const (
	// SyncFull sends the entire buffer on every flush. It is the default:
	// always correct, and cheap enough for typical buffer sizes.
	SyncFull SyncStrategy = iota

	// SyncIncremental sends ranged change events. Hosts opt in when they
	// can produce accurate ranges and the server declared incremental sync.
	SyncIncremental
)

// String returns the configuration name of the strategy.
func (s SyncStrategy) String() string {
	if s == SyncIncremental {
		return "incremental"
	}
	return "full"
}

// DiagnosticsHandler consumes diagnostics published for a session's
// document. DiagnosticsRouter is the standard implementation.
type DiagnosticsHandler interface {
	HandleDiagnostics(params PublishDiagnosticsParams)
}

// DocumentSession owns the server-visible lifecycle of one open document:
// the didOpen/didChange/didClose sequence, the version counter, and the
// debounce window that coalesces bursts of edits into single didChange
// notifications.
type DocumentSession struct {
	client      *Client
	log         *log.Logger
	uri         DocumentURI
	languageID  string
	debounce    time.Duration
	strategy    SyncStrategy
	diagnostics DiagnosticsHandler

	mu      sync.Mutex
	version int
	opened  bool
	closed  bool
	// flushTask is the single pending flush; rescheduling an edit always
	// cancels it and arms a fresh one, so at most one timer exists.
	flushTask *time.Timer
	fullText  string
	pending   []TextDocumentContentChangeEvent
}

// SessionOption configures a DocumentSession.
type SessionOption func(*DocumentSession)

// WithDebounce sets the delay between the last buffered edit and the
// didChange flush.
func WithDebounce(d time.Duration) SessionOption {
	return func(s *DocumentSession) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithSyncStrategy selects the sync strategy.
func WithSyncStrategy(strategy SyncStrategy) SessionOption {
	return func(s *DocumentSession) { s.strategy = strategy }
}

// WithDiagnostics sets the handler for published diagnostics.
func WithDiagnostics(h DiagnosticsHandler) SessionOption {
	return func(s *DocumentSession) { s.diagnostics = h }
}

// SessionOptionsFromConfig converts a loaded session configuration into
// options.
func SessionOptionsFromConfig(cfg config.SessionConfig) []SessionOption {
	opts := []SessionOption{WithDebounce(cfg.Debounce())}
	if cfg.Sync == "incremental" {
		opts = append(opts, WithSyncStrategy(SyncIncremental))
	}
	return opts
}

// NewDocumentSession creates a session for one document and attaches it
// to the client's notification fan-out.
func NewDocumentSession(client *Client, uri DocumentURI, languageID string, opts ...SessionOption) *DocumentSession {
	s := &DocumentSession{
		client:     client,
		log:        client.log.WithComponent("lsp.session").WithField("uri", string(uri)),
		uri:        uri,
		languageID: languageID,
		debounce:   defaultDebounce,
		strategy:   SyncFull,
	}
	for _, opt := range opts {
		opt(s)
	}
	client.attach(s)
	return s
}

// URI returns the document URI.
func (s *DocumentSession) URI() DocumentURI { return s.uri }

// Version returns the version last sent to the server.
func (s *DocumentSession) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Open announces the document to the server with version zero. It blocks
// until the client's handshake completes, so hosts may open documents
// immediately after Start without racing initialization.
func (s *DocumentSession) Open(ctx context.Context, text string) error {
	select {
	case <-s.client.HandshakeDone():
	case <-s.client.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return ErrDocumentOpen
	}
	s.opened = true
	s.version = 0
	s.fullText = text
	s.mu.Unlock()

	return s.client.notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        s.uri,
			LanguageID: s.languageID,
			Version:    0,
			Text:       text,
		},
	})
}

// ScheduleChange records the new full buffer content and arms the
// debounced flush. Used with SyncFull.
func (s *DocumentSession) ScheduleChange(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.fullText = text
	s.rescheduleLocked()
}

// RecordChange records one ranged change event plus the resulting full
// buffer content, and arms the debounced flush. Used with SyncIncremental;
// the full text is kept so a later strategy or server fallback to full
// sync stays correct.
func (s *DocumentSession) RecordChange(rng Range, newText, fullText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	r := rng
	s.pending = append(s.pending, TextDocumentContentChangeEvent{Range: &r, Text: newText})
	s.fullText = fullText
	s.rescheduleLocked()
}

// rescheduleLocked cancels any armed flush and arms a fresh one. Callers
// hold s.mu.
func (s *DocumentSession) rescheduleLocked() {
	if s.flushTask != nil {
		s.flushTask.Stop()
	}
	s.flushTask = time.AfterFunc(s.debounce, s.flush)
}

// Flush sends any buffered changes immediately, cancelling the armed
// debounce. Hosts call it before position-sensitive requests so the
// server sees the buffer the request's positions refer to.
func (s *DocumentSession) Flush() {
	s.mu.Lock()
	armed := s.flushTask != nil && s.flushTask.Stop()
	s.flushTask = nil
	s.mu.Unlock()

	// If Stop reported false the timer callback already fired (or is
	// blocked on the mutex) and will do the send itself.
	if armed {
		s.flush()
	}
}

// flush is the debounce callback: bump the version and send one didChange
// carrying everything buffered since the last flush.
func (s *DocumentSession) flush() {
	s.mu.Lock()
	s.flushTask = nil

	if s.closed || !s.opened || !s.client.Ready() {
		// Nothing to report against; drop quietly rather than queue
		// stale content for a server that never initialized.
		s.pending = nil
		s.mu.Unlock()
		return
	}

	var changes []TextDocumentContentChangeEvent
	switch s.strategy {
	case SyncIncremental:
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		changes = s.pending
		s.pending = nil
	default:
		changes = []TextDocumentContentChangeEvent{{Text: s.fullText}}
	}

	s.version++
	version := s.version
	s.mu.Unlock()

	// Later events first, so servers applying events in order never see
	// earlier edits shift the offsets of later ones.
	if s.strategy == SyncIncremental {
		sort.SliceStable(changes, func(i, j int) bool {
			return ComparePositions(changes[i].Range.Start, changes[j].Range.Start) > 0
		})
	}

	err := s.client.notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: s.uri},
			Version:                version,
		},
		ContentChanges: changes,
	})
	if err != nil {
		s.log.Warn("didChange v%d failed: %v", version, err)
	}
}

// handleNotification receives every server notification via the client's
// fan-out and keeps only those addressed to this document.
func (s *DocumentSession) handleNotification(method string, params json.RawMessage) {
	if method != "textDocument/publishDiagnostics" {
		return
	}

	var p PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.log.Warn("malformed publishDiagnostics: %v", err)
		return
	}
	if p.URI != s.uri {
		return
	}

	s.mu.Lock()
	handler := s.diagnostics
	closed := s.closed
	s.mu.Unlock()

	if closed || handler == nil {
		return
	}
	handler.HandleDiagnostics(p)
}

// Close sends didClose, cancels any armed flush, and detaches from the
// client. Safe to call more than once.
func (s *DocumentSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.flushTask != nil {
		s.flushTask.Stop()
		s.flushTask = nil
	}
	wasOpen := s.opened
	s.mu.Unlock()

	var err error
	if wasOpen && s.client.Ready() {
		err = s.client.notify("textDocument/didClose", DidCloseTextDocumentParams{
			TextDocument: TextDocumentIdentifier{URI: s.uri},
		})
	}

	s.client.detach(s)
	return err
}
