package lsp

// EditorView is the engine's window into the host editor's buffer for one
// document. The engine never mutates text directly; it hands the view a
// batch of changes and lets the host integrate them with its own undo
// history and rendering.
type EditorView interface {
	// Text returns the current buffer content.
	Text() string

	// ApplyEdits applies a batch of changes atomically. Changes arrive
	// sorted by descending start offset so earlier offsets stay valid
	// while later ones are applied.
	ApplyEdits(changes []Change) error

	// ShowMessage surfaces a user-facing notice (status line, popup).
	ShowMessage(msg string)

	// ShowDiagnostics replaces the displayed diagnostics for the document.
	ShowDiagnostics(diags []DisplayDiagnostic)
}
