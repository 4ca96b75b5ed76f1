package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	frame, err := Encode(MsgTextFragment, 0, 1, 1, 7, payload, false)
	require.NoError(t, err)

	h, body, err := Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, MsgTextFragment, h.Type)
	assert.Equal(t, uint8(0), h.Flags)
	assert.Equal(t, uint16(len(payload)), h.Length)
	assert.Equal(t, uint8(7), h.MsgID)
	assert.Equal(t, uint16(1), h.TotalFragments)
	assert.Equal(t, uint16(1), h.CurrentFragment)
	assert.Equal(t, CRC16(payload), h.CRC)
	assert.True(t, bytes.Equal(payload, body))
}

func TestEncodeEmptyPayload(t *testing.T) {
	frame, err := Encode(MsgSYN, 0, 1, 1, 0, nil, false)
	require.NoError(t, err)
	h, body, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgSYN, h.Type)
	assert.Equal(t, uint16(0), h.Length)
	assert.Empty(t, body)
}

func TestEncodeRejectsUnknownMsgType(t *testing.T) {
	_, err := Encode(MsgType(9), 0, 1, 1, 0, nil, false)
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestEncodeRejectsBadFragmentIndex(t *testing.T) {
	_, err := Encode(MsgTextFragment, 0, 3, 4, 0, []byte("x"), false)
	require.ErrorIs(t, err, ErrInvalidField)

	_, err = Encode(MsgTextFragment, 0, 3, 0, 0, []byte("x"), false)
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestEncodeRejectsOversizeFrame(t *testing.T) {
	huge := make([]byte, MaxFrameSize)
	_, err := Encode(MsgFileFragment, 0, 1, 1, 0, huge, false)
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestDecodeShortFrame(t *testing.T) {
	_, _, err := Decode(make([]byte, 4))
	require.ErrorIs(t, err, ErrShortFrame)
}

// TestInjectFaultKeepsCrcValidButBreaksLength reproduces the fault
// injector's exact, mandated behavior: the CRC the peer recomputes over
// the bytes it actually received still verifies, but the declared
// Length field no longer matches the actual payload length.
func TestInjectFaultKeepsCrcValidButBreaksLength(t *testing.T) {
	payload := []byte("abc")
	frame, err := Encode(MsgTextFragment, 0, 1, 1, 3, payload, true)
	require.NoError(t, err)

	h, body, err := Decode(frame)
	require.NoError(t, err)

	// CRC over the actually-received bytes matches the header's CRC.
	assert.Equal(t, CRC16(body), h.CRC)
	// But declared length (original payload size) disagrees with what
	// was actually received (original + fault suffix).
	assert.NotEqual(t, int(h.Length), len(body))
	assert.Equal(t, len(payload), int(h.Length))
	assert.Greater(t, len(body), len(payload))
}

func TestCRC16KnownVector(t *testing.T) {
	// "123456789" is the standard CRC check string; with this package's
	// parameters (init 0xFFFF, poly 0x1021, no reflection, no final XOR)
	// it yields 0x29B1.
	assert.Equal(t, uint16(0x29B1), CRC16([]byte("123456789")))
}

func TestCRC16EmptyInput(t *testing.T) {
	assert.Equal(t, uint16(crc16Init), CRC16(nil))
}
