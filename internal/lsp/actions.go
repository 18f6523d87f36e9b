package lsp

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/tidwall/gjson"
)

// RenameSymbol runs the full rename flow for the symbol at pos: validate
// the position with prepareRename when the server supports it, request
// the workspace edit, and apply it to the active document. A position
// with nothing renameable returns ErrNoSymbolAtPosition after telling
// the user.
func RenameSymbol(ctx context.Context, client *Client, view EditorView, uri DocumentURI, pos Position, newName string) (*ApplyResult, error) {
	if client.SupportsPrepareRename() {
		prep, err := client.PrepareRename(ctx, uri, pos)
		if err != nil {
			return nil, err
		}
		if prep == nil {
			view.ShowMessage("nothing to rename here")
			return nil, ErrNoSymbolAtPosition
		}
	}

	edit, err := client.Rename(ctx, uri, pos, newName)
	if err != nil {
		return nil, err
	}
	if edit == nil {
		view.ShowMessage("nothing to rename here")
		return nil, ErrNoSymbolAtPosition
	}

	result, err := ApplyWorkspaceEdit(view, uri, edit)
	if err != nil {
		return nil, err
	}

	if len(result.Skipped) > 0 {
		view.ShowMessage(fmt.Sprintf("renamed to %s in this file; %d other file(s) not modified",
			newName, len(result.Skipped)))
	}
	return result, nil
}

// FormatHover flattens hover contents into display text. The protocol
// allows MarkupContent, a bare string, a {language, value} pair, or an
// array of the latter two; blocks join with blank lines.
func FormatHover(h *Hover) string {
	if h == nil || len(h.Contents) == 0 {
		return ""
	}

	root := gjson.ParseBytes(h.Contents)
	var blocks []string
	appendBlock := func(el gjson.Result) {
		var text string
		switch {
		case el.Type == gjson.String:
			text = el.String()
		case el.IsObject():
			text = el.Get("value").String()
		}
		if text = strings.TrimSpace(text); text != "" {
			blocks = append(blocks, text)
		}
	}

	if root.IsArray() {
		for _, el := range root.Array() {
			appendBlock(el)
		}
	} else {
		appendBlock(root)
	}
	return strings.Join(blocks, "\n\n")
}

// ActiveSignature returns the signature the server marked active, or the
// first one when the index is out of range. Nil when there are none.
func ActiveSignature(help *SignatureHelp) *SignatureInformation {
	if help == nil || len(help.Signatures) == 0 {
		return nil
	}
	i := help.ActiveSignature
	if i < 0 || i >= len(help.Signatures) {
		i = 0
	}
	return &help.Signatures[i]
}

// ActiveParameterLabel returns the label text of the active parameter of
// the active signature. Parameter labels may be literal strings or
// [start, end) UTF-16 offsets into the signature label.
func ActiveParameterLabel(help *SignatureHelp) string {
	sig := ActiveSignature(help)
	if sig == nil || len(sig.Parameters) == 0 {
		return ""
	}

	i := help.ActiveParameter
	if i < 0 || i >= len(sig.Parameters) {
		i = 0
	}

	switch label := sig.Parameters[i].Label.(type) {
	case string:
		return label
	case []any:
		if len(label) != 2 {
			return ""
		}
		start, ok1 := label[0].(float64)
		end, ok2 := label[1].(float64)
		if !ok1 || !ok2 {
			return ""
		}
		return sliceUTF16(sig.Label, int(start), int(end))
	default:
		return ""
	}
}

// sliceUTF16 slices s by UTF-16 code unit offsets, clamping out-of-range
// bounds.
func sliceUTF16(s string, start, end int) string {
	units := utf16.Encode([]rune(s))
	if start < 0 {
		start = 0
	}
	if end > len(units) {
		end = len(units)
	}
	if start >= end {
		return ""
	}
	return string(utf16.Decode(units[start:end]))
}
