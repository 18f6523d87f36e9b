package lsp

import (
	"testing"
)

func items(labels ...string) []CompletionItem {
	out := make([]CompletionItem, len(labels))
	for i, l := range labels {
		out[i] = CompletionItem{Label: l}
	}
	return out
}

func labelsOf(list []CompletionItem) []string {
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = item.Label
	}
	return out
}

func TestPrefixPattern(t *testing.T) {
	pattern := PrefixPattern(items("foo/", "foo.py"))
	if pattern == nil {
		t.Fatal("expected a pattern")
	}

	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"bare word", "abc foo", "foo"},
		{"trailing dot", "x = foo.", "foo."},
		{"trailing slash", "open(foo/", "foo/"},
		{"nothing matches", "x + ", ""},
		{"stops at whitespace", "aa bb", "bb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pattern.FindString(tt.prefix); got != tt.want {
				t.Errorf("FindString(%q) = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestPrefixPatternSources(t *testing.T) {
	// textEdit.newText wins over the label when present.
	withEdit := []CompletionItem{{
		Label:    "display label",
		TextEdit: &TextEdit{NewText: "@attr"},
	}}
	pattern := PrefixPattern(withEdit)
	if pattern == nil {
		t.Fatal("expected a pattern")
	}
	if got := pattern.FindString("use @at"); got != "@at" {
		t.Errorf("FindString = %q, want %q", got, "@at")
	}

	if PrefixPattern(nil) != nil {
		t.Error("expected nil pattern for no items")
	}
	if PrefixPattern([]CompletionItem{{Label: ""}}) != nil {
		t.Error("expected nil pattern for empty labels")
	}
}

func TestFilterCompletions(t *testing.T) {
	candidates := items("Foo", "foobar", "fizz", "Bar")

	tests := []struct {
		name  string
		token string
		want  []string
	}{
		{"empty token keeps all", "", []string{"Foo", "foobar", "fizz", "Bar"}},
		{"word token filters case-insensitively", "fo", []string{"Foo", "foobar"}},
		{"punctuated token keeps all", "foo.", []string{"Foo", "foobar", "fizz", "Bar"}},
		{"no match", "zzz", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := labelsOf(FilterCompletions(candidates, tt.token))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestFilterCompletionsUsesFilterText(t *testing.T) {
	candidates := []CompletionItem{
		{Label: "pretty display", FilterText: "fmt"},
		{Label: "fmtless"},
	}
	got := FilterCompletions(candidates, "fmt")
	if len(got) != 2 {
		t.Fatalf("got %d items, want 2", len(got))
	}
}

func TestRankCompletionsSortText(t *testing.T) {
	orders := map[string][]CompletionItem{
		"given order": {
			{Label: "test", SortText: "0"},
			{Label: "zebra", SortText: "1"},
			{Label: "alpha", SortText: "2"},
		},
		"reversed": {
			{Label: "alpha", SortText: "2"},
			{Label: "zebra", SortText: "1"},
			{Label: "test", SortText: "0"},
		},
	}

	want := []string{"test", "zebra", "alpha"}
	for name, candidates := range orders {
		t.Run(name, func(t *testing.T) {
			RankCompletions(candidates, "", nil)
			got := labelsOf(candidates)
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("got %v, want %v", got, want)
				}
			}
		})
	}
}

func TestRankCompletionsUnderscoreLast(t *testing.T) {
	candidates := items("_private", "alpha", "__dunder__", "beta")
	RankCompletions(candidates, "", nil)

	want := []string{"alpha", "beta", "__dunder__", "_private"}
	got := labelsOf(candidates)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRankCompletionsExactCaseFirst(t *testing.T) {
	candidates := items("foobar", "Foobar")
	RankCompletions(candidates, "Foo", nil)

	if candidates[0].Label != "Foobar" {
		t.Errorf("got %v, want Foobar first", labelsOf(candidates))
	}
}

func TestRankCompletionsHint(t *testing.T) {
	candidates := items("aaa", "zzz")
	keyword := func(item CompletionItem) int {
		if item.Label == "zzz" {
			return 0
		}
		return 1
	}
	RankCompletions(candidates, "", keyword)

	if candidates[0].Label != "zzz" {
		t.Errorf("got %v, want hint to win", labelsOf(candidates))
	}
}

func TestDocumentation(t *testing.T) {
	tests := []struct {
		name string
		item CompletionItem
		want string
	}{
		{"plain string", CompletionItem{Documentation: "does a thing"}, "does a thing"},
		{"markup map", CompletionItem{Documentation: map[string]any{
			"kind": "markdown", "value": "**bold**",
		}}, "**bold**"},
		{"whitespace only", CompletionItem{Documentation: "  \n\t "}, ""},
		{"bare fences", CompletionItem{Documentation: "```\n```"}, ""},
		{"fence with content", CompletionItem{Documentation: "```go\nfunc F()\n```"}, "```go\nfunc F()\n```"},
		{"absent", CompletionItem{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Documentation(tt.item); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
