package lsp

import (
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Mapper converts between LSP positions and rune offsets for one buffer
// snapshot. Positions use UTF-16 character columns on the wire; offsets
// are rune counts into the buffer. A Mapper is immutable; build a new one
// after every buffer change.
type Mapper struct {
	lines  []string // line content, newline excluded
	starts []int    // rune offset of each line start
	total  int      // rune length of the buffer
}

// NewMapper builds a mapper over the given buffer content.
func NewMapper(content string) *Mapper {
	lines := strings.Split(content, "\n")
	starts := make([]int, len(lines))

	offset := 0
	for i, line := range lines {
		starts[i] = offset
		offset += utf8.RuneCountInString(line) + 1 // +1 for the newline
	}

	return &Mapper{
		lines:  lines,
		starts: starts,
		total:  utf8.RuneCountInString(content),
	}
}

// LineCount returns the number of lines in the buffer.
func (m *Mapper) LineCount() int { return len(m.lines) }

// Len returns the buffer length in runes.
func (m *Mapper) Len() int { return m.total }

// Line returns the content of the given line, without its newline.
// Out-of-range lines return the empty string.
func (m *Mapper) Line(i int) string {
	if i < 0 || i >= len(m.lines) {
		return ""
	}
	return m.lines[i]
}

// PosToOffset converts a position to a rune offset. It reports false when
// the position does not map: negative components, or a character column
// beyond the line's end. One past-the-end form is valid: a line at or
// beyond the line count with character zero maps to the buffer length, so
// servers can address end-of-document without knowing the exact line count.
func (m *Mapper) PosToOffset(pos Position) (int, bool) {
	if pos.Line < 0 || pos.Character < 0 {
		return 0, false
	}
	if pos.Line >= len(m.lines) {
		if pos.Character == 0 {
			return m.total, true
		}
		return 0, false
	}

	line := m.lines[pos.Line]
	col, ok := utf16ToRuneCol(line, pos.Character)
	if !ok {
		return 0, false
	}
	return m.starts[pos.Line] + col, true
}

// PosToOffsetOrZero is the lenient form of PosToOffset for callers that
// must produce some offset. Unmappable positions yield zero.
func (m *Mapper) PosToOffsetOrZero(pos Position) int {
	off, ok := m.PosToOffset(pos)
	if !ok {
		return 0
	}
	return off
}

// OffsetToPos converts a rune offset to a position. The conversion is
// total: offsets are clamped into [0, Len].
func (m *Mapper) OffsetToPos(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > m.total {
		offset = m.total
	}

	// First line whose start exceeds the offset; the offset lives on the
	// line before it.
	i := sort.Search(len(m.starts), func(i int) bool {
		return m.starts[i] > offset
	}) - 1

	col := offset - m.starts[i]
	return Position{Line: i, Character: runeColToUTF16(m.lines[i], col)}
}

// RangeToOffsets converts a range to a start/end offset pair. It reports
// false when either endpoint fails to map.
func (m *Mapper) RangeToOffsets(r Range) (int, int, bool) {
	start, ok := m.PosToOffset(r.Start)
	if !ok {
		return 0, 0, false
	}
	end, ok := m.PosToOffset(r.End)
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

// ComparePositions orders two positions: negative when a precedes b,
// zero when equal, positive when a follows b.
func ComparePositions(a, b Position) int {
	if a.Line != b.Line {
		return a.Line - b.Line
	}
	return a.Character - b.Character
}

// utf16ToRuneCol converts a UTF-16 column in line to a rune column.
// Reports false when the column lands past the end of the line or inside
// a surrogate pair.
func utf16ToRuneCol(line string, col int) (int, bool) {
	u16 := 0
	runes := 0
	for _, r := range line {
		if u16 >= col {
			break
		}
		u16 += len(utf16.Encode([]rune{r}))
		runes++
	}
	if u16 != col {
		// Past end of line, or the column split a surrogate pair.
		return 0, false
	}
	return runes, true
}

// runeColToUTF16 converts a rune column in line to a UTF-16 column.
// Columns past the end of the line map to the line's UTF-16 length.
func runeColToUTF16(line string, col int) int {
	u16 := 0
	i := 0
	for _, r := range line {
		if i >= col {
			break
		}
		u16 += len(utf16.Encode([]rune{r}))
		i++
	}
	return u16
}
