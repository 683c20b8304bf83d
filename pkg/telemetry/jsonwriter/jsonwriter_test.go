package jsonwriter

import (
	"encoding/json"
	"testing"
)

// assertValid unmarshals a document to prove syntactic validity.
func assertValid(t *testing.T, document string) {
	t.Helper()
	var value interface{}
	if err := json.Unmarshal([]byte(document), &value); err != nil {
		t.Fatalf("emitted invalid JSON %q: %v", document, err)
	}
}

func TestCompactObject(t *testing.T) {
	writer := New(false)
	writer.BeginObject()
	writer.ObjectString("name", "value")
	writer.ObjectInt("count", 42)
	writer.ObjectBool("flag", true)
	writer.ObjectNull("nothing")
	writer.EndObject()
	document := writer.String()
	if document != `{"name":"value","count":42,"flag":true,"nothing":null}` {
		t.Error("unexpected compact document:", document)
	}
	assertValid(t, document)
}

func TestPrettyNesting(t *testing.T) {
	writer := New(true)
	writer.BeginObject()
	writer.ObjectBeginArray("items")
	writer.ArrayInt(1)
	writer.ArrayBeginObject()
	writer.ObjectString("nested", "yes")
	writer.EndObject()
	writer.EndArray()
	writer.EndObject()
	assertValid(t, writer.String())
}

func TestStringEscapes(t *testing.T) {
	writer := New(false)
	writer.BeginObject()
	writer.ObjectString("escapes", "quote:\" backslash:\\ newline:\n tab:\t bell:\x07")
	writer.EndObject()
	document := writer.String()
	assertValid(t, document)

	// The control byte must use the \u00XX form.
	var decoded map[string]string
	if err := json.Unmarshal([]byte(document), &decoded); err != nil {
		t.Fatal("unable to decode escapes:", err)
	}
	if decoded["escapes"] != "quote:\" backslash:\\ newline:\n tab:\t bell:\x07" {
		t.Error("escapes didn't round-trip")
	}
}

func TestDoublePrecision(t *testing.T) {
	writer := New(false)
	writer.BeginArray()
	writer.ArrayDouble(2, 3.14159)
	writer.ArrayDouble(-1, 2.5)
	writer.EndArray()
	document := writer.String()
	if document != `[3.14,2.500000]` {
		t.Error("unexpected double formatting:", document)
	}
}

func TestSubSplicing(t *testing.T) {
	build := func(pretty bool) *Writer {
		child := New(pretty)
		child.BeginObject()
		child.ObjectString("inner", "value with \"quotes\" and \n breaks")
		child.ObjectBeginArray("list")
		child.ArrayInt(1)
		child.ArrayInt(2)
		child.EndArray()
		child.EndObject()
		return child
	}

	// Pretty child in pretty parent.
	parent := New(true)
	parent.BeginObject()
	parent.ObjectSub("child", build(true))
	parent.EndObject()
	assertValid(t, parent.String())

	// Pretty child in compact parent is compacted on the fly.
	parent = New(false)
	parent.BeginObject()
	parent.ObjectSub("child", build(true))
	parent.EndObject()
	document := parent.String()
	assertValid(t, document)
	for _, c := range document {
		if c == '\n' || c == '\t' {
			t.Fatal("compact parent contains pretty whitespace")
		}
	}

	// Compact child in compact parent.
	parent = New(false)
	parent.BeginObject()
	parent.ObjectSub("child", build(false))
	parent.EndObject()
	assertValid(t, parent.String())
}

func TestAssertions(t *testing.T) {
	// An array emission into an object must panic.
	func() {
		defer func() {
			if recover() == nil {
				t.Error("unkeyed emission into object didn't panic")
			}
		}()
		writer := New(false)
		writer.BeginObject()
		writer.ArrayInt(1)
	}()

	// Closing with open containers must panic.
	func() {
		defer func() {
			if recover() == nil {
				t.Error("close with open container didn't panic")
			}
		}()
		writer := New(false)
		writer.BeginObject()
		writer.Bytes()
	}()

	// Splicing an unterminated child must panic.
	func() {
		defer func() {
			if recover() == nil {
				t.Error("splice of unterminated child didn't panic")
			}
		}()
		child := New(false)
		child.BeginObject()
		parent := New(false)
		parent.BeginObject()
		parent.ObjectSub("child", child)
	}()
}
