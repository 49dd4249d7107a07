package scanner

import "testing"

// plainStops returns the offsets of b outside strings, comments and
// brackets.
func plainStops(src string, b byte) []int {
	var out []int
	s := New(src)
	for {
		ch, ok := s.Next()
		if !ok {
			return out
		}
		if ch == b && s.Plain() && s.BracketDepth() == 0 {
			out = append(out, s.Pos())
		}
	}
}

func TestPlainStops(t *testing.T) {
	tests := []struct {
		name string
		src  string
		b    byte
		want []int
	}{
		{"bare", "a;b;", ';', []int{1, 3}},
		{"double quoted", `a:";";`, ';', []int{5}},
		{"single quoted", "a:';';", ';', []int{5}},
		{"escaped quote", `"a\";b";`, ';', []int{7}},
		{"comment", "/* ; */;", ';', []int{7}},
		{"parens", "url(a;b);", ';', []int{8}},
		{"paren in string", `"(";`, ';', []int{3}},
		{"brace in parens", "f({a});{", '{', []int{7}},
		{"brace in brackets", "[{a}];{", '{', []int{6}},
		{"semicolon in brackets", "[a;{b}];", ';', []int{7}},
		{"bracket in string", `"[";`, ';', []int{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := plainStops(tt.src, tt.b)
			if len(got) != len(tt.want) {
				t.Fatalf("plainStops(%q) = %v, want %v", tt.src, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("plainStops(%q) = %v, want %v", tt.src, got, tt.want)
				}
			}
		})
	}
}

func TestCommentSpan(t *testing.T) {
	src := "a/* x */b"
	s := New(src)
	var span []bool
	for {
		_, ok := s.Next()
		if !ok {
			break
		}
		span = append(span, s.InComment())
	}
	want := []bool{false, true, true, true, true, true, true, true, false}
	for i := range want {
		if span[i] != want[i] {
			t.Errorf("byte %d (%q): InComment = %v, want %v", i, src[i], span[i], want[i])
		}
	}
}

// "/*/" must not close the comment it opens.
func TestCommentNotClosedBySharedSlash(t *testing.T) {
	s := New("/*/ x */y")
	last := byte(0)
	for {
		ch, ok := s.Next()
		if !ok {
			break
		}
		if s.Plain() {
			last = ch
		}
		if ch == 'x' && !s.InComment() {
			t.Error("x should still be inside the comment")
		}
	}
	if last != 'y' {
		t.Errorf("expected y to be plain, last plain byte was %q", last)
	}
}

func TestStringSpanIncludesDelimiters(t *testing.T) {
	s := New(`a"b"c`)
	want := []bool{false, true, true, true, false}
	for i := range want {
		_, ok := s.Next()
		if !ok {
			t.Fatal("short input")
		}
		if s.InString() != want[i] {
			t.Errorf("byte %d: InString = %v, want %v", i, s.InString(), want[i])
		}
	}
}

func TestLine(t *testing.T) {
	s := New("a\nb\nc")
	for {
		_, ok := s.Next()
		if !ok {
			break
		}
	}
	if s.Line() != 3 {
		t.Errorf("Line() = %d, want 3", s.Line())
	}
}
