package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxStringLen bounds a single decoded string so a corrupt length prefix
// cannot make the reader allocate arbitrarily.
const maxStringLen = 1 << 16

var (
	ErrTruncated   = errors.New("protocol: payload truncated")
	ErrInvalidUTF8 = errors.New("protocol: string is not valid UTF-8")
	ErrTooLong     = errors.New("protocol: length prefix exceeds limit")
)

// Writer serializes payload primitives.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteString(s string) *Writer {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	w.buf.Write(n[:])
	w.buf.WriteString(s)
	return w
}

func (w *Writer) WriteBool(b bool) *Writer {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
	return w
}

func (w *Writer) WriteUint8(b byte) *Writer {
	w.buf.WriteByte(b)
	return w
}

func (w *Writer) WriteStrings(ss []string) *Writer {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(ss)))
	w.buf.Write(n[:])
	for _, s := range ss {
		w.WriteString(s)
	}
	return w
}

func (w *Writer) Bytes() []byte {
	return append([]byte(nil), w.buf.Bytes()...)
}

// Reader decodes payload primitives in order. Trailing bytes are ignored.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) readLen() (int, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b)
	if n > maxStringLen {
		return 0, fmt.Errorf("%w: %d", ErrTooLong, n)
	}
	return int(n), nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.readLen()
	if err != nil {
		return "", err
	}
	b, err := r.next(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) ReadUint8() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadStrings() ([]string, error) {
	n, err := r.readLen()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
