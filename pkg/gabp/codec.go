package gabp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const headerSeparator = "\r\n\r\n"

// Encode serializes msg to its LSP-style wire form: a Content-Length
// header block, a blank line, then the UTF-8 JSON payload. A single
// Encode call corresponds to a single flush on the wire.
func Encode(msg *Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("gabp: encode message: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(payload))
	buf.WriteString("Content-Type: application/json\r\n")
	buf.WriteString("\r\n")
	buf.Write(payload)
	return buf.Bytes(), nil
}

// WriteTo encodes msg and writes it to w in a single Write call, so that
// headers and payload of one message are never split across writes that
// could interleave with another goroutine's on the same connection.
func WriteTo(w io.Writer, msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// frameError marks a frame that parsed headers fine but whose payload is
// not valid JSON.
type frameError struct {
	err error
}

func (e *frameError) Error() string { return e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }

// ErrBadFrame is returned (wrapped) by Decoder.Pop when a complete frame's
// payload fails to parse. The recommended and
// implemented recovery is to close the connection rather than continue.
var ErrBadFrame = fmt.Errorf("gabp: malformed frame")

// Decoder accumulates bytes from repeated reads and yields complete
// messages as they become available, tolerating partial frames across
// calls to Append.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Append feeds newly-read bytes into the decoder's buffer.
func (d *Decoder) Append(p []byte) {
	d.buf.Write(p)
}

// Pop attempts to extract exactly one message from the buffer.
//
// Return contract:
//   - (msg, nil) — a message was decoded; the caller should call Pop again,
//     since the buffer may hold further complete frames.
//   - (nil, nil) — the buffer holds only a partial frame; wait for more bytes.
//   - (nil, err) — the frame's headers were malformed (missing/non-numeric
//     Content-Length) or its payload failed to parse / had an unrecognized
//     type. The caller must close the connection; the
//     buffer is left past the point needed for the next caller-driven retry
//     to avoid any risk of looping on the same bad bytes.
func (d *Decoder) Pop() (*Message, error) {
	raw := d.buf.Bytes()

	sep := bytes.Index(raw, []byte(headerSeparator))
	if sep < 0 {
		return nil, nil // need more bytes
	}

	header := string(raw[:sep])
	contentLength, ok := parseContentLength(header)
	if !ok {
		// Missing/non-numeric Content-Length: no further frames can be
		// recovered from this buffer. Close the connection.
		d.buf.Reset()
		return nil, fmt.Errorf("%w: missing or invalid Content-Length", ErrBadFrame)
	}

	bodyStart := sep + len(headerSeparator)
	if len(raw) < bodyStart+contentLength {
		return nil, nil // need more bytes
	}

	body := raw[bodyStart : bodyStart+contentLength]
	// Advance past this frame unconditionally, even if the body fails to
	// parse, since Content-Length told us exactly how many bytes it spans.
	d.buf.Next(bodyStart + contentLength)

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, &frameError{err})
	}
	switch msg.Type {
	case TypeRequest, TypeResponse, TypeEvent:
	default:
		return nil, fmt.Errorf("%w: unrecognized type %q", ErrBadFrame, msg.Type)
	}

	return &msg, nil
}

// parseContentLength scans the header block (one or more lines, each
// "Name: value") for a case-insensitive Content-Length header.
func parseContentLength(header string) (int, bool) {
	for _, line := range strings.Split(header, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		if !strings.EqualFold(name, "Content-Length") {
			continue
		}
		value := strings.TrimSpace(line[colon+1:])
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
