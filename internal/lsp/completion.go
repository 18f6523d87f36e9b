package lsp

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"
)

// CompletionEngine turns raw server completion lists into display-ready
// candidate sets: it derives the typed token from the candidates
// themselves, filters, ranks, and resolves documentation lazily.
type CompletionEngine struct {
	client   *Client
	rankHint func(item CompletionItem) int

	// generation invalidates in-flight queries. Every Query bumps it;
	// so does Invalidate, which hosts call on buffer edits. A query
	// whose generation is no longer current reports its result stale.
	generation atomic.Uint64
}

// CompletionResult is one processed completion response.
type CompletionResult struct {
	// Items are the filtered, ranked candidates.
	Items []CompletionItem

	// Token is the already-typed text the candidates complete, derived
	// from the candidates' own leading characters. Empty when nothing
	// before the cursor looks like the start of a candidate.
	Token string

	// IsIncomplete mirrors the server's flag: further typing should
	// re-query instead of narrowing client-side.
	IsIncomplete bool

	// Stale reports that the buffer changed (or a newer query started)
	// while this one was in flight. Hosts drop stale results.
	Stale bool
}

// EngineOption configures a CompletionEngine.
type EngineOption func(*CompletionEngine)

// WithRankHint installs a language-specific ranking hook. Lower values
// sort earlier; items with equal hints fall through to the default order.
func WithRankHint(hint func(item CompletionItem) int) EngineOption {
	return func(e *CompletionEngine) { e.rankHint = hint }
}

// NewCompletionEngine creates an engine bound to a client.
func NewCompletionEngine(client *Client, opts ...EngineOption) *CompletionEngine {
	e := &CompletionEngine{client: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invalidate marks every in-flight query stale. Hosts call it whenever
// the buffer changes under an outstanding completion request.
func (e *CompletionEngine) Invalidate() {
	e.generation.Add(1)
}

// Query requests completions at pos and post-processes them. linePrefix
// is the buffer text on the cursor's line up to the cursor; the typed
// token is extracted from it. A nil-result request (handshake pending,
// no capability) yields an empty, non-stale result.
func (e *CompletionEngine) Query(ctx context.Context, uri DocumentURI, pos Position, linePrefix string, cctx *CompletionContext) (*CompletionResult, error) {
	gen := e.generation.Add(1)

	list, err := e.client.Completion(ctx, uri, pos, cctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return &CompletionResult{}, nil
	}

	token := ""
	if pattern := PrefixPattern(list.Items); pattern != nil {
		token = pattern.FindString(linePrefix)
	}

	items := FilterCompletions(list.Items, token)
	RankCompletions(items, token, e.rankHint)

	return &CompletionResult{
		Items:        items,
		Token:        token,
		IsIncomplete: list.IsIncomplete,
		Stale:        e.generation.Load() != gen,
	}, nil
}

// Resolve fills in an item's lazily-computed fields. It never fails:
// servers without resolve support, resolve errors, and null results all
// fall back to the item as-is.
func (e *CompletionEngine) Resolve(ctx context.Context, item CompletionItem) CompletionItem {
	resolved, err := e.client.ResolveCompletionItem(ctx, item)
	if err != nil || resolved == nil {
		return item
	}
	return *resolved
}

// Documentation returns an item's display documentation, normalized.
// Whitespace-only and empty-fence documentation comes back empty.
func Documentation(item CompletionItem) string {
	return CleanDocumentation(ExtractDocumentation(item.Documentation))
}

// insertionText is what accepting the item would insert; it is also what
// the prefix pattern is derived from.
func insertionText(item CompletionItem) string {
	if item.TextEdit != nil && item.TextEdit.NewText != "" {
		return item.TextEdit.NewText
	}
	return item.Label
}

// filterKey is the text the typed token filters against.
func filterKey(item CompletionItem) string {
	if item.FilterText != "" {
		return item.FilterText
	}
	return item.Label
}

// sortKey is the text items order by.
func sortKey(item CompletionItem) string {
	if item.SortText != "" {
		return item.SortText
	}
	return item.Label
}

// PrefixPattern builds a regexp matching the longest suffix of the text
// before the cursor that could be the start of one of the candidates.
// The first-character and rest-character sets are taken from the
// candidates' insertion texts, so tokens follow whatever the language's
// completions actually look like ("foo.", "foo/", "@attr") instead of a
// fixed identifier syntax. Returns nil when no candidate contributes.
func PrefixPattern(items []CompletionItem) *regexp.Regexp {
	first := newCharClass()
	rest := newCharClass()

	for _, item := range items {
		runes := []rune(insertionText(item))
		if len(runes) == 0 {
			continue
		}
		first.add(runes[0])
		for _, r := range runes[1:] {
			rest.add(r)
		}
	}
	if first.empty() {
		return nil
	}

	pattern := first.pattern()
	if !rest.empty() {
		pattern += rest.pattern() + "*"
	}
	pattern += "$"

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return re
}

// charClass accumulates a regexp character class. Word characters
// collapse into \w; everything else is escaped individually.
type charClass struct {
	word  bool
	other map[rune]struct{}
}

func newCharClass() *charClass {
	return &charClass{other: make(map[rune]struct{})}
}

func (c *charClass) add(r rune) {
	if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
		c.word = true
		return
	}
	c.other[r] = struct{}{}
}

func (c *charClass) empty() bool {
	return !c.word && len(c.other) == 0
}

func (c *charClass) pattern() string {
	var b strings.Builder
	b.WriteByte('[')
	if c.word {
		b.WriteString(`\w`)
	}

	runes := make([]rune, 0, len(c.other))
	for r := range c.other {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	for _, r := range runes {
		switch r {
		case '\\', ']', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte(']')
	return b.String()
}

// FilterCompletions narrows items by the typed token. Only purely
// word-shaped tokens filter, case-insensitively by prefix; tokens with
// punctuation ("foo.", "./") pass everything through, because the server
// already scoped the list to that context.
func FilterCompletions(items []CompletionItem, token string) []CompletionItem {
	if token == "" || !isWordToken(token) {
		return items
	}

	lower := strings.ToLower(token)
	filtered := make([]CompletionItem, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(strings.ToLower(filterKey(item)), lower) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func isWordToken(token string) bool {
	for _, r := range token {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// RankCompletions orders items in place: exact-case token prefixes first,
// then by rank hint, with underscore-prefixed entries pushed to the end,
// and finally by sort key, which honors server-assigned sortText.
func RankCompletions(items []CompletionItem, token string, hint func(item CompletionItem) int) {
	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := sortKey(items[i]), sortKey(items[j])

		if token != "" {
			ei := strings.HasPrefix(ki, token)
			ej := strings.HasPrefix(kj, token)
			if ei != ej {
				return ei
			}
		}

		if hint != nil {
			hi, hj := hint(items[i]), hint(items[j])
			if hi != hj {
				return hi < hj
			}
		}

		ui := strings.HasPrefix(ki, "_")
		uj := strings.HasPrefix(kj, "_")
		if ui != uj {
			return uj
		}

		return ki < kj
	})
}
