package gabp

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"request", &Message{V: ProtocolVersion, ID: "r1", Type: TypeRequest, Method: "session/hello", Params: json.RawMessage(`{"token":"T"}`)}},
		{"response result", &Message{V: ProtocolVersion, ID: "r1", Type: TypeResponse, Result: json.RawMessage(`8`)}},
		{"response error", &Message{V: ProtocolVersion, ID: "r1", Type: TypeResponse, Error: NewError(CodeToolNotFound, "tool not found", nil)}},
		{"event", func() *Message {
			m, err := NewEvent("system/status", 1, map[string]int{"k": 1}, timeFixture())
			if err != nil {
				t.Fatalf("NewEvent: %v", err)
			}
			return m
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			dec := NewDecoder()
			dec.Append(data)
			got, err := dec.Pop()
			if err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if got == nil {
				t.Fatal("Pop returned nil message")
			}
			if got.V != tt.msg.V || got.ID != tt.msg.ID || got.Type != tt.msg.Type {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tt.msg)
			}
			if got.Method != tt.msg.Method || got.Channel != tt.msg.Channel {
				t.Errorf("round trip variant field mismatch: got %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestDecoderYieldsConcatenatedMessagesInOrder(t *testing.T) {
	m1, _ := NewRequest("a", "tools/list", nil)
	m2, _ := NewRequest("b", "events/subscribe", map[string]any{"channels": []string{"x"}})
	m3, _ := NewRequest("c", "tools/call", map[string]any{"name": "math/add"})

	var all []byte
	for _, m := range []*Message{m1, m2, m3} {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		all = append(all, data...)
	}

	dec := NewDecoder()
	dec.Append(all)

	var ids []string
	for {
		msg, err := dec.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if msg == nil {
			break
		}
		ids = append(ids, msg.ID)
	}

	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("got %v messages, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("message %d id = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestDecoderHandlesPartialFramesAcrossAppends(t *testing.T) {
	m, _ := NewRequest("a", "session/hello", nil)
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewDecoder()
	// Feed one byte at a time to exercise "need more bytes" repeatedly.
	for i := 0; i < len(data)-1; i++ {
		dec.Append(data[i : i+1])
		msg, err := dec.Pop()
		if err != nil {
			t.Fatalf("Pop at byte %d: %v", i, err)
		}
		if msg != nil {
			t.Fatalf("Pop returned a message before the frame was complete (byte %d)", i)
		}
	}
	dec.Append(data[len(data)-1:])
	msg, err := dec.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg == nil || msg.ID != "a" {
		t.Fatalf("Pop = %+v, want id=a", msg)
	}
}

func TestDecoderRejectsMissingContentLength(t *testing.T) {
	dec := NewDecoder()
	dec.Append([]byte("Content-Type: application/json\r\n\r\n{}"))
	_, err := dec.Pop()
	if !errors.Is(err, ErrBadFrame) {
		t.Fatalf("Pop err = %v, want ErrBadFrame", err)
	}
}

func TestDecoderRejectsUnrecognizedType(t *testing.T) {
	body := []byte(`{"v":"gabp/1","id":"x","type":"notification"}`)
	header := "Content-Length: " + itoa(len(body)) + "\r\n\r\n"

	dec := NewDecoder()
	dec.Append([]byte(header))
	dec.Append(body)
	_, err := dec.Pop()
	if !errors.Is(err, ErrBadFrame) {
		t.Fatalf("Pop err = %v, want ErrBadFrame", err)
	}
}

func TestDecoderHeaderParsingIsCaseInsensitiveAndTrimsWhitespace(t *testing.T) {
	m, _ := NewRequest("a", "tools/list", nil)
	payload, _ := json.Marshal(m)
	frame := "content-length:  " + itoa(len(payload)) + "  \r\n\r\n"

	dec := NewDecoder()
	dec.Append([]byte(frame))
	dec.Append(payload)
	msg, err := dec.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg == nil || msg.ID != "a" {
		t.Fatalf("Pop = %+v, want id=a", msg)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
