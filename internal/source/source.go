// Package source yields the raw lines of an address file.
package source

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// maxLineBytes bounds a single record line. Fixed-width address rows are a
// few hundred bytes; anything larger is a corrupt file.
const maxLineBytes = 1 << 20

// LineSource yields lines in file order. Next returns io.EOF once the source
// is exhausted; any other error is a read failure.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// Reader is a LineSource over an io.Reader that skips blank lines.
type Reader struct {
	scanner  *bufio.Scanner
	closer   io.Closer
	physical int
}

// NewReader wraps r. Lines that are empty after trimming whitespace are skipped.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Open opens the file at path as a Reader. Close releases the file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Next returns the next non-blank line with any trailing carriage return removed.
func (r *Reader) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return "", eris.Wrapf(err, "source: read line %d", r.physical+1)
			}
			return "", io.EOF
		}
		r.physical++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line, nil
	}
}

// PhysicalLine returns the 1-based file line number of the last line returned.
func (r *Reader) PhysicalLine() int {
	return r.physical
}

// Close closes the underlying file when the Reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Slice is an in-memory LineSource. Blank lines are skipped like Reader does.
type Slice struct {
	lines []string
	pos   int
}

// FromLines returns a LineSource over lines.
func FromLines(lines ...string) *Slice {
	return &Slice{lines: lines}
}

// Next implements LineSource.
func (s *Slice) Next(ctx context.Context) (string, error) {
	for s.pos < len(s.lines) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line := s.lines[s.pos]
		s.pos++
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
	}
	return "", io.EOF
}
