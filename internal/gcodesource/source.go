// Package gcodesource defines the restartable line source the build
// pipeline iterates over (the GCodeSource in the System Overview table),
// along with the plain in-memory implementation used for direct builds and
// tests.
package gcodesource

// Source is a restartable, lazy, finite sequence of G-code text lines. A
// pipeline run always begins with Rewind so a single Source value can be
// reused across a simulate-then-build pair without re-reading its backing
// storage.
type Source interface {
	// Rewind resets iteration to the first line.
	Rewind()
	// Next returns the next line and true, or "" and false once exhausted.
	Next() (string, bool)
	// LineCount is an approximate total used for progress reporting. It
	// need not be exact; callers only use it to compute a percentage.
	LineCount() int
}

// StringListSource is a Source backed by a slice already held in memory,
// the common case for a file uploaded or typed in directly rather than
// streamed.
type StringListSource struct {
	lines []string
	n     int
}

// NewStringListSource copies lines into a new Source.
func NewStringListSource(lines []string) *StringListSource {
	cp := make([]string, len(lines))
	copy(cp, lines)
	return &StringListSource{lines: cp}
}

func (s *StringListSource) Rewind() { s.n = 0 }

func (s *StringListSource) Next() (string, bool) {
	if s.n >= len(s.lines) {
		return "", false
	}
	line := s.lines[s.n]
	s.n++
	return line, true
}

func (s *StringListSource) LineCount() int { return len(s.lines) }
