// Package scanner provides boundary-aware scanning of CSS text. It
// encapsulates the tracking of quoted strings, block comments, escape
// sequences and bracket depth, eliminating the need for the parser and
// the fragment extractor to re-implement this logic.
package scanner

// CSSScanner iterates byte-by-byte over stylesheet text, tracking string
// literal boundaries (double- and single-quoted), "/* */" comments,
// backslash escapes and bracket depth (parentheses and square brackets).
// Callers check InString() and InComment() instead of maintaining their
// own state flags.
//
// InString() and InComment() return true for the entire span including
// both the opening and closing delimiters.
type CSSScanner struct {
	src        string
	pos        int
	line       int
	inDbl      bool
	inSgl      bool
	inCmt      bool
	cmtStart   int
	escaped    bool
	brackets   int
	closingStr bool // the byte just returned closed a string
	closingCmt bool // the byte just returned closed a comment
}

// New creates a CSSScanner for the given text.
// Call Next() to advance to the first byte.
func New(src string) *CSSScanner {
	return &CSSScanner{src: src, pos: -1, line: 1}
}

// Next advances to the next byte, updating string/comment/escape state.
// Returns the byte and true, or (0, false) at end of input.
func (s *CSSScanner) Next() (byte, bool) {
	s.closingStr = false
	s.closingCmt = false
	s.pos++
	if s.pos >= len(s.src) {
		return 0, false
	}
	ch := s.src[s.pos]
	if ch == '\n' {
		s.line++
	}

	if s.escaped {
		s.escaped = false
		return ch, true
	}

	if s.inCmt {
		// "*/" closes the comment, but the "*" of the opening "/*"
		// doesn't count.
		if ch == '/' && s.pos >= s.cmtStart+3 && s.src[s.pos-1] == '*' {
			s.inCmt = false
			s.closingCmt = true
		}
		return ch, true
	}

	switch {
	case ch == '\\' && (s.inDbl || s.inSgl):
		s.escaped = true
	case ch == '"' && !s.inSgl:
		if s.inDbl {
			s.closingStr = true
		}
		s.inDbl = !s.inDbl
	case ch == '\'' && !s.inDbl:
		if s.inSgl {
			s.closingStr = true
		}
		s.inSgl = !s.inSgl
	case s.inDbl || s.inSgl:
		// inside a string, brackets don't count
	case ch == '/' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '*':
		s.inCmt = true
		s.cmtStart = s.pos
	case ch == '(' || ch == '[':
		s.brackets++
	case ch == ')' || ch == ']':
		if s.brackets > 0 {
			s.brackets--
		}
	}
	return ch, true
}

// Pos returns the byte offset of the byte most recently returned by Next.
func (s *CSSScanner) Pos() int { return s.pos }

// Line returns the 1-based line of the current position.
func (s *CSSScanner) Line() int { return s.line }

// InString reports whether the current byte is part of a string literal,
// including its delimiters.
func (s *CSSScanner) InString() bool { return s.inDbl || s.inSgl || s.closingStr }

// InComment reports whether the current byte is part of a block comment,
// including its delimiters.
func (s *CSSScanner) InComment() bool { return s.inCmt || s.closingCmt }

// Plain reports whether the current byte is outside any string or comment.
func (s *CSSScanner) Plain() bool {
	return !s.inDbl && !s.inSgl && !s.inCmt && !s.closingStr && !s.closingCmt
}

// BracketDepth returns the current nesting depth of parentheses and
// square brackets, counting only ones outside strings and comments.
func (s *CSSScanner) BracketDepth() int { return s.brackets }
