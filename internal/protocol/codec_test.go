package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCarriesTagAndPayload(t *testing.T) {
	msg := NewMessage(AcceptRequestSuccess, NewWriter().WriteString("bob").WriteBool(true))

	frame, err := msg.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, uint16(AcceptRequestSuccess), binary.BigEndian.Uint16(frame))

	parsed, err := ParseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, AcceptRequestSuccess, parsed.Tag)

	r := parsed.Reader()
	name, err := r.ReadString()
	require.NoError(t, err)
	online, err := r.ReadBool()
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
	assert.True(t, online)
	assert.Zero(t, r.Remaining())
}

func TestParseFrameRejectsShortFrame(t *testing.T) {
	_, err := ParseFrame([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestReaderTruncatedString(t *testing.T) {
	payload := NewWriter().WriteString("alice").Bytes()

	_, err := NewReader(payload[:len(payload)-2]).ReadString()
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = NewReader(nil).ReadString()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestReaderRejectsInvalidUTF8(t *testing.T) {
	payload := []byte{0, 0, 0, 2, 0xff, 0xfe}
	_, err := NewReader(payload).ReadString()
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestReaderRejectsHugeLength(t *testing.T) {
	payload := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := NewReader(payload).ReadString()
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestStringArrays(t *testing.T) {
	w := NewWriter().
		WriteStrings([]string{"a", "b"}).
		WriteStrings(nil).
		WriteUint8(byte(AlreadyRelated))

	r := NewReader(w.Bytes())
	first, err := r.ReadStrings()
	require.NoError(t, err)
	second, err := r.ReadStrings()
	require.NoError(t, err)
	code, err := r.ReadUint8()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, first)
	assert.Empty(t, second)
	assert.Equal(t, AlreadyRelated, ErrorCode(code))
}

func TestIsFriendsTag(t *testing.T) {
	assert.True(t, IsFriendsTag(FriendRequest))
	assert.True(t, IsFriendsTag(FriendLoggedOut))
	assert.False(t, IsFriendsTag(FriendRequest-1))
	assert.False(t, IsFriendsTag(FriendLoggedOut+1))
	assert.Equal(t, "GetAllFriends", GetAllFriends.String())
	assert.Equal(t, "Tag(7)", Tag(7).String())
}
