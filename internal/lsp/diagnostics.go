package lsp

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"skiff/internal/log"
)

// PresentationSeverity is the 3-level severity diagnostics display with.
// The protocol's Hint level folds into Info: hosts rarely have a fourth
// gutter style, and hints are informational anyway.
type PresentationSeverity int

const (
	SeverityError PresentationSeverity = iota
	SeverityWarning
	SeverityInfo
)

// String returns a human-readable severity name.
func (s PresentationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// FoldSeverity maps a protocol severity to a presentation severity.
// Unset severity counts as an error, matching how most servers treat it.
func FoldSeverity(s DiagnosticSeverity) PresentationSeverity {
	switch s {
	case DiagnosticSeverityWarning:
		return SeverityWarning
	case DiagnosticSeverityInformation, DiagnosticSeverityHint:
		return SeverityInfo
	default:
		return SeverityError
	}
}

// DisplayDiagnostic is a diagnostic prepared for display: severity folded
// and code actions pre-fetched.
type DisplayDiagnostic struct {
	Diagnostic Diagnostic
	Severity   PresentationSeverity
	Actions    []CodeAction
}

// DiagnosticsRouter consumes publishDiagnostics for one document,
// enriches each diagnostic with its available code actions, and hands
// the batch to the view. It is the standard DiagnosticsHandler for a
// DocumentSession.
type DiagnosticsRouter struct {
	client  *Client
	view    EditorView
	uri     DocumentURI
	timeout time.Duration
	log     *log.Logger
}

// NewDiagnosticsRouter creates a router for one document.
func NewDiagnosticsRouter(client *Client, view EditorView, uri DocumentURI) *DiagnosticsRouter {
	return &DiagnosticsRouter{
		client:  client,
		view:    view,
		uri:     uri,
		timeout: client.timeout,
		log:     client.log.WithComponent("lsp.diagnostics"),
	}
}

// HandleDiagnostics implements DiagnosticsHandler. Code actions for each
// diagnostic are fetched concurrently; a failed fetch degrades that
// diagnostic to no actions rather than dropping the batch.
func (r *DiagnosticsRouter) HandleDiagnostics(params PublishDiagnosticsParams) {
	if params.URI != r.uri {
		return
	}
	if len(params.Diagnostics) == 0 {
		r.view.ShowDiagnostics(nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	display := make([]DisplayDiagnostic, len(params.Diagnostics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, diag := range params.Diagnostics {
		i, diag := i, diag
		display[i] = DisplayDiagnostic{
			Diagnostic: diag,
			Severity:   FoldSeverity(diag.Severity),
		}

		g.Go(func() error {
			actions, err := r.client.CodeActions(gctx, r.uri, diag.Range, []Diagnostic{diag})
			if err != nil {
				r.log.Debug("code actions for %q failed: %v", diag.Message, err)
				return nil
			}
			display[i].Actions = actions
			return nil
		})
	}

	// Goroutines only return nil; Wait is just the join point.
	_ = g.Wait()

	r.view.ShowDiagnostics(display)
}
