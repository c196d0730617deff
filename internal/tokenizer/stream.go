package tokenizer

import "unicode/utf8"

// byteAppender is the decoder side shared by BPE and Unigram: it turns one
// token id into raw bytes, which may be only part of a multi-byte character.
type byteAppender interface {
	appendTokenBytes(dst []byte, id int64) ([]byte, error)
}

// DecodeStream reassembles text from single-token decode calls. A
// byte-fallback or byte-level token may carry only part of a multi-byte
// UTF-8 character, so the stream keeps not-yet-valid bytes pending until
// the character completes.
//
// A stream belongs to exactly one logical decoding session and must not be
// shared across goroutines or concurrent streams.
type DecodeStream struct {
	dec              byteAppender
	pending          []byte
	trimLeadingSpace bool
}

// Decode consumes one token id and returns every character completed so
// far. Partial trailing bytes stay pending for the next call.
func (s *DecodeStream) Decode(id int64) (string, error) {
	buf, err := s.dec.appendTokenBytes(s.pending, id)
	if err != nil {
		return "", err
	}

	n := completeUTF8Prefix(buf)
	out := string(buf[:n])
	s.pending = append(s.pending[:0], buf[n:]...)

	if s.trimLeadingSpace && out != "" {
		if out[0] == ' ' {
			out = out[1:]
		}
		s.trimLeadingSpace = false
	}
	return out, nil
}

// Flush returns any bytes still pending, ending the stream. An incomplete
// trailing character is returned as-is.
func (s *DecodeStream) Flush() string {
	out := string(s.pending)
	s.pending = s.pending[:0]
	return out
}

// completeUTF8Prefix returns the length of the longest prefix of b that
// does not end in a truncated multi-byte character. Genuinely invalid bytes
// pass through so a corrupt stream cannot stall.
func completeUTF8Prefix(b []byte) int {
	i := 0
	for i < len(b) {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 && possibleRunePrefix(b[i:]) {
			return i
		}
		i += size
	}
	return i
}

// possibleRunePrefix reports whether b is a proper prefix of some valid
// multi-byte UTF-8 encoding.
func possibleRunePrefix(b []byte) bool {
	if len(b) == 0 || len(b) >= utf8.UTFMax {
		return false
	}
	var want int
	switch {
	case b[0]&0xE0 == 0xC0:
		want = 2
	case b[0]&0xF0 == 0xE0:
		want = 3
	case b[0]&0xF8 == 0xF0:
		want = 4
	default:
		return false
	}
	if len(b) >= want {
		return false
	}
	for _, c := range b[1:] {
		if c&0xC0 != 0x80 {
			return false
		}
	}
	return true
}
