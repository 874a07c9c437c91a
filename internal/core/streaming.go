package core

// streaming.go reads feed lines from an io.Reader without loading the whole
// feed into memory.
//
// FeedReader handles the artifacts real feeds carry:
//
//   - a UTF-8 BOM before the header (Windows exports)
//   - invalid UTF-8 sequences, replaced with U+FFFD
//   - CRLF line endings
//
// It also counts bytes consumed so long runs can report progress.

import (
	"bufio"
	"io"
	"iter"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// MaxFeedLineSize bounds a single feed line. Longer lines abort the read.
const MaxFeedLineSize = 1 << 20

const utf8BOM = "\uFEFF"

// ReadOptions controls how a feed is split into rows.
type ReadOptions struct {
	// SkipHeader drops the first line. Feeds always carry a header.
	SkipHeader bool
	// Limit caps the number of data rows yielded; zero means no limit.
	Limit int
}

// CountingReader wraps an io.Reader to track bytes read. The count may be
// read from other goroutines while a run is in progress.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 { return r.read.Load() }

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(min(r.BytesRead()*100/r.Total, 100))
}

// FeedReader yields sanitized feed lines.
type FeedReader struct {
	counter *CountingReader
	scanner *bufio.Scanner
	opts    ReadOptions
	err     error
}

// NewFeedReader wraps r. totalSize is used only for Progress and may be 0.
func NewFeedReader(r io.Reader, totalSize int64, opts ReadOptions) *FeedReader {
	counter := NewCountingReader(r, totalSize)
	scanner := bufio.NewScanner(counter)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFeedLineSize)
	return &FeedReader{counter: counter, scanner: scanner, opts: opts}
}

// Lines returns a single-use sequence of data rows. After iteration stops,
// Err reports any read failure.
func (f *FeedReader) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		lineNo := 0
		rows := 0
		for f.scanner.Scan() {
			lineNo++
			line := sanitizeLine(f.scanner.Text(), lineNo == 1)
			if lineNo == 1 && f.opts.SkipHeader {
				continue
			}
			if f.opts.Limit > 0 && rows >= f.opts.Limit {
				return
			}
			rows++
			if !yield(line) {
				return
			}
		}
		f.err = f.scanner.Err()
	}
}

// Err returns the first non-EOF read error.
func (f *FeedReader) Err() error { return f.err }

// BytesRead returns the number of raw bytes consumed so far.
func (f *FeedReader) BytesRead() int64 { return f.counter.BytesRead() }

// Progress returns the read progress as a percentage, or 0 if the size is unknown.
func (f *FeedReader) Progress() int { return f.counter.Progress() }

// sanitizeLine strips a trailing CR and, on the first line, a BOM, and
// replaces invalid UTF-8 with U+FFFD.
func sanitizeLine(line string, first bool) string {
	line = strings.TrimSuffix(line, "\r")
	if first {
		line = strings.TrimPrefix(line, utf8BOM)
	}
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, string(utf8.RuneError))
	}
	return line
}
