package lsp

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// Change is one buffer modification in rune offsets: the text in
// [Start, End) is replaced by Text.
type Change struct {
	Start int
	End   int
	Text  string
}

// ApplyResult summarizes one workspace edit application.
type ApplyResult struct {
	// Applied lists documents whose edits were applied.
	Applied []DocumentURI
	// Skipped lists documents whose edits were skipped because they are
	// not the active document.
	Skipped []DocumentURI
	// Changes is the number of individual edits applied.
	Changes int
}

// documentEdits is one document's worth of edits, in arrival order.
type documentEdits struct {
	uri   DocumentURI
	edits []TextEdit
}

// ApplyWorkspaceEdit applies a server workspace edit to the active
// document through its view. Edits for other documents are skipped with
// a user-visible warning each; a multi-file rename still succeeds for
// the file the user is looking at. Edits for the active document are
// converted to offsets against one buffer snapshot, ordered by
// descending start, and applied as a single atomic batch.
func ApplyWorkspaceEdit(view EditorView, active DocumentURI, edit *WorkspaceEdit) (*ApplyResult, error) {
	docs := collectDocumentEdits(view, edit)
	if len(docs) == 0 {
		view.ShowMessage("no edits to apply")
		return nil, ErrNoEdits
	}

	result := &ApplyResult{}
	var changes []Change
	var mapper *Mapper

	for _, doc := range docs {
		if doc.uri != active {
			view.ShowMessage(fmt.Sprintf("skipping edits for %s: not the active document", doc.uri))
			result.Skipped = append(result.Skipped, doc.uri)
			continue
		}

		if mapper == nil {
			mapper = NewMapper(view.Text())
		}
		for _, te := range doc.edits {
			changes = append(changes, Change{
				Start: mapper.PosToOffsetOrZero(te.Range.Start),
				End:   mapper.PosToOffsetOrZero(te.Range.End),
				Text:  te.NewText,
			})
		}
		result.Applied = append(result.Applied, doc.uri)
	}

	if len(changes) == 0 {
		return result, nil
	}

	SortChangesForApply(changes)
	if err := view.ApplyEdits(changes); err != nil {
		return nil, fmt.Errorf("applying edits to %s: %w", active, err)
	}
	result.Changes = len(changes)
	return result, nil
}

// collectDocumentEdits flattens a workspace edit into per-document edit
// lists. documentChanges wins over changes when both are present, per
// protocol. Resource operations (create/rename/delete files) carry a
// "kind" field and are skipped with a warning.
func collectDocumentEdits(view EditorView, edit *WorkspaceEdit) []documentEdits {
	if edit == nil {
		return nil
	}

	if len(edit.DocumentChanges) > 0 {
		var docs []documentEdits
		for _, raw := range edit.DocumentChanges {
			if kind := gjson.GetBytes(raw, "kind"); kind.Exists() {
				view.ShowMessage(fmt.Sprintf("skipping unsupported %s file operation", kind.String()))
				continue
			}

			var te TextDocumentEdit
			if err := json.Unmarshal(raw, &te); err != nil {
				view.ShowMessage("skipping malformed document change")
				continue
			}
			docs = append(docs, documentEdits{uri: te.TextDocument.URI, edits: te.Edits})
		}
		return docs
	}

	if len(edit.Changes) == 0 {
		return nil
	}

	// Map iteration order is random; sort for deterministic warnings.
	uris := make([]DocumentURI, 0, len(edit.Changes))
	for uri := range edit.Changes {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })

	docs := make([]documentEdits, 0, len(uris))
	for _, uri := range uris {
		docs = append(docs, documentEdits{uri: uri, edits: edit.Changes[uri]})
	}
	return docs
}

// SortChangesForApply orders changes by descending start offset so that
// applying them front to back never shifts the offsets of changes still
// to be applied.
func SortChangesForApply(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Start != changes[j].Start {
			return changes[i].Start > changes[j].Start
		}
		return changes[i].End > changes[j].End
	})
}

// ApplyChangesToString applies a batch of changes to a string buffer and
// returns the result. Offsets are rune offsets; out-of-range offsets are
// clamped. The changes are sorted internally; callers may pass them in
// any order.
func ApplyChangesToString(content string, changes []Change) string {
	sorted := make([]Change, len(changes))
	copy(sorted, changes)
	SortChangesForApply(sorted)

	runes := []rune(content)
	for _, ch := range sorted {
		start, end := ch.Start, ch.End
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		if start > end {
			start = end
		}

		next := make([]rune, 0, len(runes)-(end-start)+len(ch.Text))
		next = append(next, runes[:start]...)
		next = append(next, []rune(ch.Text)...)
		next = append(next, runes[end:]...)
		runes = next
	}
	return string(runes)
}
