package lsp

import (
	"testing"
)

const threeLineDoc = "first line\nsecond line\nthird line"

func TestPosToOffset(t *testing.T) {
	m := NewMapper(threeLineDoc)

	tests := []struct {
		name   string
		pos    Position
		want   int
		wantOK bool
	}{
		{"start of document", Position{Line: 0, Character: 0}, 0, true},
		{"start of second line", Position{Line: 1, Character: 0}, 11, true},
		{"middle of second line", Position{Line: 1, Character: 6}, 17, true},
		{"end of last line", Position{Line: 2, Character: 10}, 33, true},
		{"line past end with zero character", Position{Line: 5, Character: 0}, 33, true},
		{"line at count with zero character", Position{Line: 3, Character: 0}, 33, true},
		{"line past end with nonzero character", Position{Line: 5, Character: 3}, 0, false},
		{"character past line end", Position{Line: 0, Character: 99}, 0, false},
		{"negative line", Position{Line: -1, Character: 0}, 0, false},
		{"negative character", Position{Line: 0, Character: -1}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.PosToOffset(tt.pos)
			if ok != tt.wantOK {
				t.Fatalf("PosToOffset(%+v) ok = %v, want %v", tt.pos, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("PosToOffset(%+v) = %d, want %d", tt.pos, got, tt.want)
			}
		})
	}
}

func TestOffsetToPos(t *testing.T) {
	m := NewMapper(threeLineDoc)

	tests := []struct {
		name   string
		offset int
		want   Position
	}{
		{"start", 0, Position{Line: 0, Character: 0}},
		{"newline belongs to its line", 10, Position{Line: 0, Character: 10}},
		{"start of second line", 11, Position{Line: 1, Character: 0}},
		{"end of document", 33, Position{Line: 2, Character: 10}},
		{"negative clamps to start", -5, Position{Line: 0, Character: 0}},
		{"past end clamps to end", 99, Position{Line: 2, Character: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.OffsetToPos(tt.offset); got != tt.want {
				t.Errorf("OffsetToPos(%d) = %+v, want %+v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestPositionRoundTrip(t *testing.T) {
	m := NewMapper(threeLineDoc)

	for offset := 0; offset <= m.Len(); offset++ {
		pos := m.OffsetToPos(offset)
		back, ok := m.PosToOffset(pos)
		if !ok {
			t.Fatalf("offset %d: PosToOffset(%+v) failed", offset, pos)
		}
		if back != offset {
			t.Errorf("offset %d round-tripped to %d via %+v", offset, back, pos)
		}
	}
}

func TestPosToOffsetUTF16(t *testing.T) {
	// The emoji occupies two UTF-16 code units but one rune.
	m := NewMapper("a\U0001F600b")

	tests := []struct {
		name   string
		pos    Position
		want   int
		wantOK bool
	}{
		{"before emoji", Position{Line: 0, Character: 1}, 1, true},
		{"after emoji", Position{Line: 0, Character: 3}, 2, true},
		{"end of line", Position{Line: 0, Character: 4}, 3, true},
		{"inside surrogate pair", Position{Line: 0, Character: 2}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.PosToOffset(tt.pos)
			if ok != tt.wantOK {
				t.Fatalf("PosToOffset(%+v) ok = %v, want %v", tt.pos, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("PosToOffset(%+v) = %d, want %d", tt.pos, got, tt.want)
			}
		})
	}

	if got := m.OffsetToPos(2); got != (Position{Line: 0, Character: 3}) {
		t.Errorf("OffsetToPos(2) = %+v, want {0 3}", got)
	}
}

func TestPosToOffsetOrZero(t *testing.T) {
	m := NewMapper(threeLineDoc)

	if got := m.PosToOffsetOrZero(Position{Line: 1, Character: 0}); got != 11 {
		t.Errorf("valid position = %d, want 11", got)
	}
	if got := m.PosToOffsetOrZero(Position{Line: 0, Character: 99}); got != 0 {
		t.Errorf("invalid position = %d, want 0", got)
	}
}

func TestRangeToOffsets(t *testing.T) {
	m := NewMapper(threeLineDoc)

	start, end, ok := m.RangeToOffsets(Range{
		Start: Position{Line: 0, Character: 6},
		End:   Position{Line: 1, Character: 6},
	})
	if !ok {
		t.Fatal("RangeToOffsets failed")
	}
	if start != 6 || end != 17 {
		t.Errorf("got (%d, %d), want (6, 17)", start, end)
	}

	if _, _, ok := m.RangeToOffsets(Range{End: Position{Line: 0, Character: 99}}); ok {
		t.Error("expected failure for unmappable end position")
	}
}

func TestComparePositions(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		sign int
	}{
		{"equal", Position{1, 5}, Position{1, 5}, 0},
		{"earlier line", Position{0, 9}, Position{1, 0}, -1},
		{"same line earlier char", Position{2, 3}, Position{2, 7}, -1},
		{"later line", Position{3, 0}, Position{2, 9}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComparePositions(tt.a, tt.b)
			switch {
			case tt.sign == 0 && got != 0:
				t.Errorf("got %d, want 0", got)
			case tt.sign < 0 && got >= 0:
				t.Errorf("got %d, want negative", got)
			case tt.sign > 0 && got <= 0:
				t.Errorf("got %d, want positive", got)
			}
		})
	}
}
