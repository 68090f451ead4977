package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// MaxStringLen bounds the declared length of any wire string. The
	// length field is an unchecked u32, so without a cap a single frame
	// could demand a 4 GiB allocation.
	MaxStringLen = 4 << 20 // 4 MiB

	// MaxPayloadLen bounds raw byte payloads (segment data, upload chunks).
	MaxPayloadLen = 64 << 20 // 64 MiB
)

// Error is a protocol-level decode failure: a truncated frame, an oversized
// length field, or bytes that are not valid UTF-8 where a string is expected.
// A connection that produced one cannot be resynchronized.
type Error struct {
	Field string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("protocol: %s", e.Field)
}

func (e *Error) Unwrap() error { return e.Cause }

func decodeErr(field string, cause error) error {
	// A stream that closes mid-field is a truncation, not a clean EOF.
	if cause == io.EOF {
		cause = io.ErrUnexpectedEOF
	}
	return &Error{Field: field, Cause: cause}
}

func readFull(r io.Reader, buf []byte, field string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return decodeErr(field, err)
	}
	return nil
}

func ReadUint8(r io.Reader, field string) (uint8, error) {
	var b [1]byte
	if err := readFull(r, b[:], field); err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadUint32(r io.Reader, field string) (uint32, error) {
	var b [4]byte
	if err := readFull(r, b[:], field); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func ReadUint64(r io.Reader, field string) (uint64, error) {
	var b [8]byte
	if err := readFull(r, b[:], field); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// ReadString decodes a u32 length followed by that many UTF-8 bytes.
func ReadString(r io.Reader, field string) (string, error) {
	n, err := ReadUint32(r, field)
	if err != nil {
		return "", err
	}
	if n > MaxStringLen {
		return "", &Error{Field: field, Cause: fmt.Errorf("declared length %d exceeds limit %d", n, MaxStringLen)}
	}
	buf := make([]byte, n)
	if err := readFull(r, buf, field); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", &Error{Field: field, Cause: fmt.Errorf("invalid UTF-8")}
	}
	return string(buf), nil
}

// ReadPayload decodes a u32 length followed by that many raw bytes.
// A zero length yields a nil slice, the wire sentinel for "not found".
func ReadPayload(r io.Reader, field string) ([]byte, error) {
	n, err := ReadUint32(r, field)
	if err != nil {
		return nil, err
	}
	if n > MaxPayloadLen {
		return nil, &Error{Field: field, Cause: fmt.Errorf("declared length %d exceeds limit %d", n, MaxPayloadLen)}
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if err := readFull(r, buf, field); err != nil {
		return nil, err
	}
	return buf, nil
}

func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLen {
		return &Error{Field: "string", Cause: fmt.Errorf("length %d exceeds limit %d", len(s), MaxStringLen)}
	}
	if err := WriteUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// WritePayload encodes a u32 length followed by the raw bytes.
func WritePayload(w io.Writer, p []byte) error {
	if len(p) > MaxPayloadLen {
		return &Error{Field: "payload", Cause: fmt.Errorf("length %d exceeds limit %d", len(p), MaxPayloadLen)}
	}
	if err := WriteUint32(w, uint32(len(p))); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}
