package pktline

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	// Encode two payload packets and a flush.
	first := []byte("first packet")
	second := bytes.Repeat([]byte{0x00, 0xff}, 1000)
	var buffer bytes.Buffer
	writer := NewWriter(&buffer)
	if err := writer.WritePacket(first); err != nil {
		t.Fatal("unable to write packet:", err)
	}
	if err := writer.WritePacket(second); err != nil {
		t.Fatal("unable to write packet:", err)
	}
	if err := writer.WriteFlush(); err != nil {
		t.Fatal("unable to write flush:", err)
	}

	// Decode and verify the sequence.
	reader := NewReader(&buffer)
	status, payload, err := reader.Read()
	if err != nil || status != StatusNormal || !bytes.Equal(payload, first) {
		t.Fatal("first packet didn't round-trip")
	}
	status, payload, err = reader.Read()
	if err != nil || status != StatusNormal || !bytes.Equal(payload, second) {
		t.Fatal("second packet didn't round-trip")
	}
	status, _, err = reader.Read()
	if err != nil || status != StatusFlush {
		t.Fatal("flush didn't round-trip")
	}
	status, _, err = reader.Read()
	if err != nil || status != StatusEOF {
		t.Fatal("clean EOF not reported")
	}
}

func TestSentinels(t *testing.T) {
	var buffer bytes.Buffer
	writer := NewWriter(&buffer)
	writer.WriteFlush()
	writer.WriteDelim()
	writer.WriteResponseEnd()
	if buffer.String() != "000000010002" {
		t.Fatal("unexpected sentinel encoding:", buffer.String())
	}

	reader := NewReader(&buffer)
	for _, expected := range []Status{StatusFlush, StatusDelim, StatusResponseEnd, StatusEOF} {
		status, _, err := reader.Read()
		if err != nil || status != expected {
			t.Fatalf("expected %s, got %s (error: %v)", expected, status, err)
		}
	}
}

func TestMaximumPayload(t *testing.T) {
	// A maximal payload must round-trip.
	payload := bytes.Repeat([]byte{'m'}, MaxPayloadSize)
	var buffer bytes.Buffer
	writer := NewWriter(&buffer)
	if err := writer.WritePacket(payload); err != nil {
		t.Fatal("unable to write maximal packet:", err)
	}
	if !strings.HasPrefix(buffer.String(), "fff4") {
		t.Fatal("unexpected maximal length header")
	}
	reader := NewReader(&buffer)
	status, read, err := reader.Read()
	if err != nil || status != StatusNormal || !bytes.Equal(read, payload) {
		t.Fatal("maximal packet didn't round-trip")
	}

	// An overlong payload must be rejected.
	if err := writer.WritePacket(append(payload, 'x')); err == nil {
		t.Fatal("overlong packet accepted")
	}
}

func TestWriteChunked(t *testing.T) {
	// A payload spanning multiple frames must round-trip through
	// ReadRequest.
	payload := bytes.Repeat([]byte{'c'}, 2*MaxPayloadSize+17)
	var buffer bytes.Buffer
	writer := NewWriter(&buffer)
	if err := writer.WriteChunked(payload); err != nil {
		t.Fatal("unable to write chunked payload:", err)
	}
	writer.WriteFlush()

	request, err := NewReader(&buffer).ReadRequest()
	if err != nil {
		t.Fatal("unable to read chunked request:", err)
	}
	if !bytes.Equal(request, payload) {
		t.Fatal("chunked payload didn't round-trip")
	}
}

func TestPeekConsume(t *testing.T) {
	var buffer bytes.Buffer
	writer := NewWriter(&buffer)
	writer.WritePacket([]byte("peekable"))
	writer.WriteFlush()

	reader := NewReader(&buffer)

	// Repeated peeks must return the same packet without advancing.
	for i := 0; i < 3; i++ {
		status, payload, err := reader.Peek()
		if err != nil || status != StatusNormal || string(payload) != "peekable" {
			t.Fatal("peek returned unexpected packet")
		}
	}

	// A read must consume it.
	status, _, err := reader.Read()
	if err != nil || status != StatusNormal {
		t.Fatal("read after peek returned unexpected packet")
	}
	status, _, err = reader.Read()
	if err != nil || status != StatusFlush {
		t.Fatal("flush not consumed after peeked packet")
	}
}

func TestProtocolErrors(t *testing.T) {
	// Non-hex length header.
	if _, _, err := NewReader(strings.NewReader("00GG")).Read(); err == nil {
		t.Error("non-hex length accepted")
	}

	// Uppercase hex is a violation: the wire demands lowercase.
	if _, _, err := NewReader(strings.NewReader("000A1234567890")).Read(); err == nil {
		t.Error("uppercase hex length accepted")
	}

	// Length 3 is invalid (below the header size but not a sentinel).
	if _, _, err := NewReader(strings.NewReader("0003")).Read(); err == nil {
		t.Error("invalid length 3 accepted")
	}

	// Truncated payload.
	if _, _, err := NewReader(strings.NewReader("0010short")).Read(); err == nil {
		t.Error("truncated payload accepted")
	}

	// Truncated header.
	if _, _, err := NewReader(strings.NewReader("00")).Read(); err == nil {
		t.Error("truncated header accepted")
	}
}
