package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// FramingError reports a malformed instruction stream. Offset is the byte
// offset into the decoded message where parsing stopped.
type FramingError struct {
	Offset int
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("malformed instruction at offset %d: %s", e.Offset, e.Reason)
}

// Encode serializes an opcode and its arguments into a single instruction:
//
//	<len>.<opcode>,<len>.<arg>,...;
//
// Lengths count UTF-16 code units of the literal content, so delimiter
// characters inside an element need no escaping.
func Encode(opcode string, args ...string) string {
	var b strings.Builder
	writeElement(&b, opcode)
	for _, arg := range args {
		b.WriteByte(elementDelimiter)
		writeElement(&b, arg)
	}
	b.WriteByte(instructionEnd)
	return b.String()
}

func writeElement(b *strings.Builder, value string) {
	b.WriteString(strconv.Itoa(Length(value)))
	b.WriteByte(lengthDelimiter)
	b.WriteString(value)
}

// Length returns the number of UTF-16 code units needed to represent s.
func Length(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

// runeUnits is the UTF-16 width of r. Invalid runes count as one unit, which
// is what U+FFFD occupies.
func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// Decode parses every complete instruction contained in raw, in order.
//
// raw must hold whole instructions only: content that ends mid-instruction is
// a framing error, and nothing is carried over to the next call. On error the
// instructions decoded before the malformed one are still returned.
func Decode(raw string) ([]Instruction, error) {
	var (
		out     []Instruction
		current Instruction
		started bool
	)

	pos := 0
	for pos < len(raw) {
		value, next, err := readElement(raw, pos)
		if err != nil {
			return out, err
		}

		if !started {
			current = Instruction{Opcode: value}
			started = true
		} else {
			current.Args = append(current.Args, value)
		}

		if next >= len(raw) {
			return out, &FramingError{Offset: next, Reason: "missing delimiter after element"}
		}

		switch raw[next] {
		case elementDelimiter:
		case instructionEnd:
			out = append(out, current)
			current = Instruction{}
			started = false
		default:
			return out, &FramingError{Offset: next, Reason: fmt.Sprintf("unexpected delimiter %q", raw[next])}
		}
		pos = next + 1
	}

	return out, nil
}

// readElement reads one length-prefixed element starting at pos. It returns
// the element content and the offset of the delimiter that follows it.
func readElement(raw string, pos int) (string, int, error) {
	dot := pos
	for dot < len(raw) && raw[dot] >= '0' && raw[dot] <= '9' {
		dot++
	}
	if dot >= len(raw) || raw[dot] != lengthDelimiter {
		return "", dot, &FramingError{Offset: dot, Reason: "element length not terminated by '.'"}
	}
	if dot == pos {
		return "", pos, &FramingError{Offset: pos, Reason: "empty element length"}
	}

	length, err := strconv.Atoi(raw[pos:dot])
	if err != nil {
		return "", pos, &FramingError{Offset: pos, Reason: fmt.Sprintf("invalid element length: %v", err)}
	}

	start := dot + 1
	end := start
	for units := 0; units < length; {
		if end >= len(raw) {
			return "", end, &FramingError{Offset: end, Reason: "element shorter than its declared length"}
		}
		r, size := utf8.DecodeRuneInString(raw[end:])
		units += runeUnits(r)
		end += size
		if units > length {
			return "", end, &FramingError{Offset: end, Reason: "element length splits a surrogate pair"}
		}
	}

	return raw[start:end], end, nil
}
