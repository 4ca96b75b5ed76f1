package wire

import "errors"

// Error taxonomy for the frame codec and the session layer. Encode/Decode
// only ever return ErrInvalidField or ErrShortFrame; pkg/session returns
// ErrHeartbeatLost and ErrPeerClosed. CRC, length, duplicate and
// ack-timeout conditions are handled inside the session's receive and
// send paths (NACK, drop or retransmit) and are not returned as errors.
var (
	// ErrInvalidField is returned by Encode when a header field is out
	// of range, or the resulting frame would exceed MaxFrameSize. It is
	// a caller programming error, never expected in normal operation.
	ErrInvalidField = errors.New("wire: invalid header field")

	// ErrShortFrame is returned by Decode when the datagram is smaller
	// than HeaderSize; none of its fields can be trusted.
	ErrShortFrame = errors.New("wire: short frame")

	// ErrMalformedHeader covers header decode failures beyond length,
	// reserved for future stricter validation.
	ErrMalformedHeader = errors.New("wire: malformed header")

	// ErrCrcMismatch: payload CRC check failed on receipt.
	ErrCrcMismatch = errors.New("wire: crc mismatch")

	// ErrLengthMismatch: declared length disagrees with actual payload.
	ErrLengthMismatch = errors.New("wire: length mismatch")

	// ErrDuplicate: msg_id equals the last accepted value for a
	// data-carrying frame type.
	ErrDuplicate = errors.New("wire: duplicate msg_id")

	// ErrAckTimeout: sender waited for an ACK/NACK and none arrived.
	ErrAckTimeout = errors.New("wire: ack timeout")

	// ErrHeartbeatLost: the heartbeat supervisor exceeded its miss
	// threshold.
	ErrHeartbeatLost = errors.New("wire: heartbeat lost")

	// ErrPeerClosed: the session ended because the peer sent END; the
	// send path also returns it when the session ends while a fragment
	// is still unacknowledged.
	ErrPeerClosed = errors.New("wire: peer closed")
)
