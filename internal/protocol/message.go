package protocol

import (
	"encoding/binary"
	"errors"
)

const tagSize = 2

// ErrShortFrame is returned when a frame is too small to carry a tag.
var ErrShortFrame = errors.New("protocol: frame shorter than tag header")

// Message is a tagged payload. On the wire it is a single binary frame:
// a big-endian uint16 tag followed by the payload bytes.
type Message struct {
	Tag     Tag
	Payload []byte
}

// NewMessage builds a message from a writer's contents. A nil writer
// yields an empty payload.
func NewMessage(tag Tag, w *Writer) *Message {
	m := &Message{Tag: tag}
	if w != nil {
		m.Payload = w.Bytes()
	}
	return m
}

// Reader returns a reader positioned at the start of the payload.
func (m *Message) Reader() *Reader {
	return NewReader(m.Payload)
}

// MarshalBinary encodes the message as a frame.
func (m *Message) MarshalBinary() ([]byte, error) {
	frame := make([]byte, tagSize+len(m.Payload))
	binary.BigEndian.PutUint16(frame, uint16(m.Tag))
	copy(frame[tagSize:], m.Payload)
	return frame, nil
}

// UnmarshalBinary decodes a frame. The payload aliases a copy of data.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) < tagSize {
		return ErrShortFrame
	}
	m.Tag = Tag(binary.BigEndian.Uint16(data))
	m.Payload = append([]byte(nil), data[tagSize:]...)
	return nil
}

// ParseFrame is a convenience wrapper around UnmarshalBinary.
func ParseFrame(data []byte) (*Message, error) {
	m := &Message{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}
