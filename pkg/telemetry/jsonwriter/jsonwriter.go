// Package jsonwriter provides an append-only JSON builder: values are
// emitted directly into a byte buffer as they arrive, with a bracket stack
// asserting that every emission is structurally legal and a well-formedness
// check at close. It exists because the telemetry trace format needs
// incremental emission and document splicing, neither of which marshal-the-
// whole-value encoders offer.
package jsonwriter

import (
	"fmt"
	"strconv"
)

// Writer is an append-only JSON builder. Misuse (emitting a keyed value
// outside an object, an unkeyed value outside an array, or closing the wrong
// bracket) panics: the call sites are all internal and such a call is a
// programming error, not an input error. A Writer is not safe for concurrent
// usage.
type Writer struct {
	// buffer accumulates the document.
	buffer []byte
	// stack holds the currently open brackets.
	stack []byte
	// first indicates, per open bracket, whether or not the next emission is
	// the container's first (and thus needs no comma).
	first []bool
	// pretty enables indented output.
	pretty bool
}

// New creates a writer. If pretty is set, the document is indented with
// tabs; otherwise it is compact.
func New(pretty bool) *Writer {
	return &Writer{pretty: pretty}
}

// assertTop panics unless the top of the bracket stack is the specified
// bracket.
func (w *Writer) assertTop(bracket byte, operation string) {
	if len(w.stack) == 0 || w.stack[len(w.stack)-1] != bracket {
		panic(fmt.Sprintf("jsonwriter: %s outside %c container", operation, bracket))
	}
}

// indent emits a newline and the current indentation in pretty mode.
func (w *Writer) indent() {
	if !w.pretty {
		return
	}
	w.buffer = append(w.buffer, '\n')
	for i := 0; i < len(w.stack); i++ {
		w.buffer = append(w.buffer, '\t')
	}
}

// comma emits the separating comma (and pretty-mode line break) before a new
// element of the current container.
func (w *Writer) comma() {
	if len(w.stack) == 0 {
		return
	}
	if w.first[len(w.first)-1] {
		w.first[len(w.first)-1] = false
	} else {
		w.buffer = append(w.buffer, ',')
	}
	w.indent()
}

// appendString emits a JSON string with the standard escapes, plus \u00XX
// for any other byte below 0x20.
func (w *Writer) appendString(value string) {
	w.buffer = append(w.buffer, '"')
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case '"':
			w.buffer = append(w.buffer, '\\', '"')
		case '\\':
			w.buffer = append(w.buffer, '\\', '\\')
		case '\n':
			w.buffer = append(w.buffer, '\\', 'n')
		case '\r':
			w.buffer = append(w.buffer, '\\', 'r')
		case '\t':
			w.buffer = append(w.buffer, '\\', 't')
		case '\f':
			w.buffer = append(w.buffer, '\\', 'f')
		case '\b':
			w.buffer = append(w.buffer, '\\', 'b')
		default:
			if c < 0x20 {
				w.buffer = append(w.buffer, fmt.Sprintf("\\u%04x", c)...)
			} else {
				w.buffer = append(w.buffer, c)
			}
		}
	}
	w.buffer = append(w.buffer, '"')
}

// appendDouble emits a floating-point value with the specified precision. A
// negative precision selects the default (%f) formatting.
func (w *Writer) appendDouble(value float64, precision int) {
	if precision < 0 {
		w.buffer = append(w.buffer, fmt.Sprintf("%f", value)...)
	} else {
		w.buffer = strconv.AppendFloat(w.buffer, value, 'f', precision, 64)
	}
}

// open pushes a container bracket.
func (w *Writer) open(bracket byte) {
	w.buffer = append(w.buffer, bracket)
	w.stack = append(w.stack, bracket)
	w.first = append(w.first, true)
}

// closeContainer pops a container bracket.
func (w *Writer) closeContainer(opening, closing byte, operation string) {
	w.assertTop(opening, operation)
	empty := w.first[len(w.first)-1]
	w.stack = w.stack[:len(w.stack)-1]
	w.first = w.first[:len(w.first)-1]
	if !empty {
		w.indent()
	}
	w.buffer = append(w.buffer, closing)
}

// BeginObject opens the document's root object. It is only valid on an
// empty writer.
func (w *Writer) BeginObject() {
	if len(w.buffer) != 0 {
		panic("jsonwriter: root container on non-empty writer")
	}
	w.open('{')
}

// BeginArray opens the document's root array. It is only valid on an empty
// writer.
func (w *Writer) BeginArray() {
	if len(w.buffer) != 0 {
		panic("jsonwriter: root container on non-empty writer")
	}
	w.open('[')
}

// key emits an object member key.
func (w *Writer) key(key string) {
	w.assertTop('{', "keyed emission")
	w.comma()
	w.appendString(key)
	w.buffer = append(w.buffer, ':')
	if w.pretty {
		w.buffer = append(w.buffer, ' ')
	}
}

// ObjectString emits a string member of the open object.
func (w *Writer) ObjectString(name, value string) {
	w.key(name)
	w.appendString(value)
}

// ObjectInt emits an integer member of the open object.
func (w *Writer) ObjectInt(name string, value int64) {
	w.key(name)
	w.buffer = strconv.AppendInt(w.buffer, value, 10)
}

// ObjectBool emits a boolean member of the open object.
func (w *Writer) ObjectBool(name string, value bool) {
	w.key(name)
	w.buffer = strconv.AppendBool(w.buffer, value)
}

// ObjectNull emits a null member of the open object.
func (w *Writer) ObjectNull(name string) {
	w.key(name)
	w.buffer = append(w.buffer, "null"...)
}

// ObjectDouble emits a floating-point member of the open object with the
// specified precision (negative for default formatting).
func (w *Writer) ObjectDouble(name string, precision int, value float64) {
	w.key(name)
	w.appendDouble(value, precision)
}

// ObjectBeginObject opens an object-valued member of the open object.
func (w *Writer) ObjectBeginObject(name string) {
	w.key(name)
	w.open('{')
}

// ObjectBeginArray opens an array-valued member of the open object.
func (w *Writer) ObjectBeginArray(name string) {
	w.key(name)
	w.open('[')
}

// EndObject closes the open object.
func (w *Writer) EndObject() {
	w.closeContainer('{', '}', "EndObject")
}

// value prepares an unkeyed emission into the open array.
func (w *Writer) value() {
	w.assertTop('[', "unkeyed emission")
	w.comma()
}

// ArrayString emits a string element of the open array.
func (w *Writer) ArrayString(value string) {
	w.value()
	w.appendString(value)
}

// ArrayInt emits an integer element of the open array.
func (w *Writer) ArrayInt(value int64) {
	w.value()
	w.buffer = strconv.AppendInt(w.buffer, value, 10)
}

// ArrayBool emits a boolean element of the open array.
func (w *Writer) ArrayBool(value bool) {
	w.value()
	w.buffer = strconv.AppendBool(w.buffer, value)
}

// ArrayNull emits a null element of the open array.
func (w *Writer) ArrayNull() {
	w.value()
	w.buffer = append(w.buffer, "null"...)
}

// ArrayDouble emits a floating-point element of the open array with the
// specified precision (negative for default formatting).
func (w *Writer) ArrayDouble(precision int, value float64) {
	w.value()
	w.appendDouble(value, precision)
}

// ArrayBeginObject opens an object element of the open array.
func (w *Writer) ArrayBeginObject() {
	w.value()
	w.open('{')
}

// ArrayBeginArray opens an array element of the open array.
func (w *Writer) ArrayBeginArray() {
	w.value()
	w.open('[')
}

// EndArray closes the open array.
func (w *Writer) EndArray() {
	w.closeContainer('[', ']', "EndArray")
}

// ObjectSub splices a terminated child document in as a member of the open
// object. A pretty child embedded in a pretty parent is re-indented to line
// up; a pretty child embedded in a compact parent is compacted on the fly.
func (w *Writer) ObjectSub(name string, child *Writer) {
	w.key(name)
	w.splice(child)
}

// ArraySub splices a terminated child document in as an element of the open
// array.
func (w *Writer) ArraySub(child *Writer) {
	w.value()
	w.splice(child)
}

// splice embeds a terminated child document, adjusting its whitespace to the
// destination's style. Whitespace inside strings is untouched; the scan
// tracks string and escape state byte by byte.
func (w *Writer) splice(child *Writer) {
	if len(child.stack) != 0 {
		panic("jsonwriter: splicing an unterminated child document")
	}
	depth := len(w.stack)
	inString := false
	escaped := false
	for i := 0; i < len(child.buffer); i++ {
		c := child.buffer[i]
		if inString {
			w.buffer = append(w.buffer, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			w.buffer = append(w.buffer, c)
		case '\n':
			// Swallow the child's line break and its indentation; re-emit
			// them in the parent's style if the parent is pretty.
			for i+1 < len(child.buffer) && child.buffer[i+1] == '\t' {
				i++
			}
			if w.pretty {
				w.buffer = append(w.buffer, '\n')
				indentation := depth + countIndent(child.buffer, i)
				for j := 0; j < indentation; j++ {
					w.buffer = append(w.buffer, '\t')
				}
			}
		case ' ':
			// A compact parent drops the child's key/value spacing.
			if w.pretty {
				w.buffer = append(w.buffer, c)
			}
		default:
			w.buffer = append(w.buffer, c)
		}
	}
}

// countIndent counts the tab run ending at (and including) position end in
// buffer.
func countIndent(buffer []byte, end int) int {
	count := 0
	for i := end; i >= 0 && buffer[i] == '\t'; i-- {
		count++
	}
	return count
}

// Bytes terminates the document and returns it, asserting well-formedness
// (no containers left open, non-empty document).
func (w *Writer) Bytes() []byte {
	if len(w.stack) != 0 {
		panic("jsonwriter: document closed with open containers")
	}
	if len(w.buffer) == 0 {
		panic("jsonwriter: document closed empty")
	}
	return w.buffer
}

// String terminates the document and returns it as a string.
func (w *Writer) String() string {
	return string(w.Bytes())
}
