package tabular

// sanitize.go provides memory-efficient streaming readers that clean a
// spreadsheet byte stream before CSV parsing:
//
//   - bomReader skips the UTF-8 BOM (0xEF 0xBB 0xBF) added by Windows tools
//   - utf8Reader replaces invalid UTF-8 bytes with '?' on the fly
//
// Wrapping the raw reader keeps memory at O(buffer) regardless of file size.

import (
	"io"
	"unicode/utf8"
)

// newSanitizingReader applies BOM skipping and UTF-8 sanitization in the
// correct order.
func newSanitizingReader(r io.Reader) io.Reader {
	return newUTF8Reader(newBOMReader(r))
}

// bomReader wraps an io.Reader and skips a leading UTF-8 BOM if present.
type bomReader struct {
	reader  io.Reader
	checked bool
	pending []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{reader: r}
}

func (r *bomReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true

		var head [3]byte
		n, err := io.ReadFull(r.reader, head[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if n > 0 {
			if n == 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
				// BOM found, drop it.
			} else {
				r.pending = append(r.pending, head[:n]...)
			}
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}

	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}

	return r.reader.Read(p)
}

// utf8Reader wraps an io.Reader and replaces invalid UTF-8 bytes with '?'.
// A single-byte replacement avoids expanding the buffer mid-stream.
type utf8Reader struct {
	reader io.Reader

	// Bytes held back from the previous read that may start an incomplete
	// multi-byte sequence.
	pending []byte
}

func newUTF8Reader(r io.Reader) *utf8Reader {
	return &utf8Reader{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	// Fast path: pure ASCII needs no sanitization.
	if allASCII(p[:n]) {
		return n, err
	}

	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize cleans data in place and returns the number of valid bytes.
// When not at EOF, an incomplete trailing sequence is held back for the
// next read instead of being replaced.
func (s *utf8Reader) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		if !atEOF && read+size >= len(data) && incompleteRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
		} else {
			copy(data[write:], data[read:read+size])
			write += size
			read += size
		}
	}
	return write
}

func allASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// incompleteRune reports whether data could be the start of a multi-byte
// sequence whose continuation bytes have not arrived yet.
func incompleteRune(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b := data[0]
	var want int
	switch {
	case b < 0x80:
		want = 1
	case b < 0xC0:
		return false // bare continuation byte, always invalid
	case b < 0xE0:
		want = 2
	case b < 0xF0:
		want = 3
	default:
		want = 4
	}
	return want > len(data)
}
