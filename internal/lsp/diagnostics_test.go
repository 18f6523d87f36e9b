package lsp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestFoldSeverity(t *testing.T) {
	tests := []struct {
		name string
		in   DiagnosticSeverity
		want PresentationSeverity
	}{
		{"error", DiagnosticSeverityError, SeverityError},
		{"warning", DiagnosticSeverityWarning, SeverityWarning},
		{"information", DiagnosticSeverityInformation, SeverityInfo},
		{"hint folds to info", DiagnosticSeverityHint, SeverityInfo},
		{"unset counts as error", 0, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FoldSeverity(tt.in); got != tt.want {
				t.Errorf("FoldSeverity(%d) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func waitForDiagnostics(t *testing.T, view *fakeView) []DisplayDiagnostic {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if shown := view.shownDiagnostics(); len(shown) > 0 {
			return shown[len(shown)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("diagnostics never shown")
	return nil
}

func diag(line int, severity DiagnosticSeverity, message string) Diagnostic {
	return Diagnostic{
		Range: Range{
			Start: Position{Line: line, Character: 0},
			End:   Position{Line: line, Character: 5},
		},
		Severity: severity,
		Message:  message,
	}
}

func TestRouterEnrichesWithCodeActions(t *testing.T) {
	// The fake server answers code actions for line 0 and errors for
	// line 1; the failure must only cost that diagnostic its actions.
	ft := newFakeTransport()
	ft.answerLifecycle(allCaps, func(id int64, method string, msg []byte) {
		if method != "textDocument/codeAction" {
			return
		}
		if gjson.GetBytes(msg, "params.range.start.line").Int() == 0 {
			ft.serve(fmt.Sprintf(
				`{"jsonrpc":"2.0","id":%d,"result":[{"title":"fix it","kind":"quickfix"}]}`, id))
			return
		}
		ft.serve(fmt.Sprintf(
			`{"jsonrpc":"2.0","id":%d,"error":{"code":-32603,"message":"boom"}}`, id))
	})

	client := NewClient(ft)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	view := &fakeView{}
	router := NewDiagnosticsRouter(client, view, "file:///a.go")

	router.HandleDiagnostics(PublishDiagnosticsParams{
		URI: "file:///a.go",
		Diagnostics: []Diagnostic{
			diag(0, DiagnosticSeverityError, "undefined variable"),
			diag(1, DiagnosticSeverityHint, "unused import"),
		},
	})

	shown := waitForDiagnostics(t, view)
	if len(shown) != 2 {
		t.Fatalf("got %d diagnostics, want 2", len(shown))
	}

	if shown[0].Severity != SeverityError {
		t.Errorf("first severity = %v, want error", shown[0].Severity)
	}
	if len(shown[0].Actions) != 1 || shown[0].Actions[0].Title != "fix it" {
		t.Errorf("first actions = %+v", shown[0].Actions)
	}

	if shown[1].Severity != SeverityInfo {
		t.Errorf("second severity = %v, want info (hint folded)", shown[1].Severity)
	}
	if shown[1].Actions != nil {
		t.Errorf("failed fetch should leave no actions, got %+v", shown[1].Actions)
	}
}

func TestRouterIgnoresOtherDocuments(t *testing.T) {
	client, _ := startTestClient(t, allCaps, nil)
	view := &fakeView{}
	router := NewDiagnosticsRouter(client, view, "file:///a.go")

	router.HandleDiagnostics(PublishDiagnosticsParams{
		URI:         "file:///b.go",
		Diagnostics: []Diagnostic{diag(0, DiagnosticSeverityError, "not mine")},
	})

	if shown := view.shownDiagnostics(); len(shown) != 0 {
		t.Errorf("diagnostics shown for foreign document: %+v", shown)
	}
}

func TestRouterClearsOnEmptyBatch(t *testing.T) {
	client, ft := startTestClient(t, allCaps, nil)
	view := &fakeView{}
	router := NewDiagnosticsRouter(client, view, "file:///a.go")

	router.HandleDiagnostics(PublishDiagnosticsParams{URI: "file:///a.go"})

	shown := view.shownDiagnostics()
	if len(shown) != 1 || shown[0] != nil {
		t.Fatalf("expected one nil batch, got %+v", shown)
	}
	if ft.findSent("textDocument/codeAction") != nil {
		t.Error("code actions fetched for an empty batch")
	}
}
