// Package lsp implements the client-side Language Server Protocol engine
// that powers skiff's editor integrations.
//
// The package covers the protocol/session core only: JSON-RPC request
// correlation, the per-document synchronization lifecycle, position
// arithmetic, completion filtering and ranking, and offset-safe workspace
// edit application. Rendering, key dispatch, and server process management
// belong to the host editor.
//
// # Architecture
//
//   - Client: JSON-RPC 2.0 correlation layer over an abstract Transport
//   - DocumentSession: one per open document; owns the version counter
//     and the debounced didChange flush
//   - Mapper: (line, character) <-> offset conversion for a text buffer
//   - CompletionEngine: prefix extraction, filtering, ranking, lazy resolve
//   - Edit application: workspace edits as a single atomic buffer batch
//   - DiagnosticsRouter: publishDiagnostics routing plus scoped code actions
//
// # Quick Start
//
//	client := lsp.NewClient(transport, lsp.WithRootURI(root))
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	session := lsp.NewDocumentSession(client, uri, "go")
//	session.Open(ctx, content)
//	session.ScheduleChange(newContent) // debounced didChange
//
//	hover, err := client.Hover(ctx, uri, lsp.Position{Line: 10, Character: 5})
//
// # Transports
//
// Transport is message-oriented: whole JSON-RPC envelopes in, whole
// envelopes out. StdioTransport speaks the LSP base protocol with
// Content-Length framing; WebSocketTransport carries one envelope per
// WebSocket message. Hosts with exotic plumbing implement the three-method
// interface themselves.
//
// # Thread Safety
//
// Client and DocumentSession are safe for concurrent use. Requests are
// not serialized: responses may arrive in any order relative to issuance,
// and callers must not assume otherwise.
package lsp
