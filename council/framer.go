package council

import "bytes"

// Framer splits an arbitrarily chunked byte stream into complete lines.
// The trailing fragment of each chunk is carried over until its newline
// arrives. Bytes are buffered undecoded, so a multi-byte rune split across
// reads is reassembled intact.
type Framer struct {
	carry []byte
}

// Feed appends chunk and returns every line it completes, without the line
// terminator (a trailing \r is dropped too).
func (f *Framer) Feed(chunk []byte) []string {
	f.carry = append(f.carry, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(f.carry, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(f.carry[:i], []byte{'\r'})))
		f.carry = f.carry[i+1:]
	}

	// Compact so the buffer doesn't pin every chunk ever read.
	if len(f.carry) == 0 {
		f.carry = f.carry[:0:0]
	} else if cap(f.carry) > 4*len(f.carry)+4096 {
		f.carry = append([]byte(nil), f.carry...)
	}
	return lines
}

// Flush returns the unterminated remainder at end of stream, if any.
func (f *Framer) Flush() (string, bool) {
	if len(f.carry) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(f.carry, []byte{'\r'}))
	f.carry = nil
	return line, true
}

// Pending is the number of carried-over bytes.
func (f *Framer) Pending() int { return len(f.carry) }
