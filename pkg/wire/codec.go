package wire

import (
	"encoding/binary"
	"fmt"
)

// Encode builds a complete on-wire frame: the 10-byte header followed by
// payload. It validates every field and the total frame size, failing
// with ErrInvalidField on any violation.
//
// When injectFault is true, Encode appends injectFaultSuffix to the bytes
// that are actually transmitted and computes the CRC over that longer
// buffer - so the CRC the peer recomputes from what it actually received
// still matches. The header's Length field, however, is left at the
// original (pre-suffix) payload size. The result is a frame whose declared
// length disagrees with its real payload length while its CRC is valid:
// this is a deliberate fault injector for exercising the receive path's
// LengthMismatch/NACK handling, and must be reproduced exactly this way -
// it is not a CRC corruption hook.
func Encode(msgType MsgType, flags uint8, totalFragments, currentFragment uint16, msgID uint8, payload []byte, injectFault bool) ([]byte, error) {
	if !validMsgType(msgType) {
		return nil, fmt.Errorf("%w: msg_type %d is not a recognized message type", ErrInvalidField, msgType)
	}
	if flags > 0xF {
		return nil, fmt.Errorf("%w: flags %d exceeds 4 bits", ErrInvalidField, flags)
	}
	if totalFragments < 1 {
		return nil, fmt.Errorf("%w: total_fragments must be >= 1", ErrInvalidField)
	}
	if currentFragment < 1 || currentFragment > totalFragments {
		return nil, fmt.Errorf("%w: current_fragment %d out of range [1,%d]", ErrInvalidField, currentFragment, totalFragments)
	}

	declaredLength := uint16(len(payload))

	wirePayload := payload
	if injectFault {
		wirePayload = make([]byte, 0, len(payload)+len(injectFaultSuffix))
		wirePayload = append(wirePayload, payload...)
		wirePayload = append(wirePayload, injectFaultSuffix...)
	}

	if HeaderSize+len(wirePayload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds MaxFrameSize %d", ErrInvalidField, HeaderSize+len(wirePayload), MaxFrameSize)
	}

	crc := CRC16(wirePayload)

	frame := make([]byte, HeaderSize+len(wirePayload))
	frame[0] = (uint8(msgType) << 4) | (flags & 0xF)
	binary.BigEndian.PutUint16(frame[1:3], declaredLength)
	frame[3] = msgID
	binary.BigEndian.PutUint16(frame[4:6], totalFragments)
	binary.BigEndian.PutUint16(frame[6:8], currentFragment)
	binary.BigEndian.PutUint16(frame[8:10], crc)
	copy(frame[HeaderSize:], wirePayload)

	return frame, nil
}

// Decode splits a received datagram into its header and payload. It is
// the only failure mode at this layer: a datagram shorter than
// HeaderSize cannot be trusted at all, so none of its fields are parsed.
// CRC and length verification happen one layer up, in the session's
// receive path, where NACK responses and duplicate suppression require
// session state Decode does not have access to.
func Decode(datagram []byte) (Header, []byte, error) {
	if len(datagram) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: datagram is %d bytes, need at least %d", ErrShortFrame, len(datagram), HeaderSize)
	}

	first := datagram[0]
	h := Header{
		Type:            MsgType(first >> 4),
		Flags:           first & 0xF,
		Length:          binary.BigEndian.Uint16(datagram[1:3]),
		MsgID:           datagram[3],
		TotalFragments:  binary.BigEndian.Uint16(datagram[4:6]),
		CurrentFragment: binary.BigEndian.Uint16(datagram[6:8]),
		CRC:             binary.BigEndian.Uint16(datagram[8:10]),
	}

	payload := datagram[HeaderSize:]
	return h, payload, nil
}
