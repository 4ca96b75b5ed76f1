// Package wire implements the fixed 10-byte frame header used by the
// reliable datagram session layer: encoding, decoding, and the
// CRC-16/XMODEM checksum the header and receive path rely on.
package wire

import "fmt"

// MsgType identifies the purpose of a frame. It occupies the high nibble
// of the first header byte, so only values 0-15 are representable.
type MsgType uint8

// Message types. This is the single source of truth: no other codes are
// valid on the wire.
const (
	MsgSYN          MsgType = 1
	MsgSYNACK       MsgType = 2
	MsgACK          MsgType = 3
	MsgHeartbeat    MsgType = 5
	MsgFileFragment MsgType = 6
	MsgEnd          MsgType = 7
	MsgFileName     MsgType = 8
	MsgTextFragment MsgType = 11
	MsgFIN          MsgType = 12
	MsgNACK         MsgType = 13
	MsgFINACK       MsgType = 14
	MsgDataACK      MsgType = 15
)

func (t MsgType) String() string {
	switch t {
	case MsgSYN:
		return "SYN"
	case MsgSYNACK:
		return "SYN-ACK"
	case MsgACK:
		return "ACK"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgFileFragment:
		return "FILE-FRAGMENT"
	case MsgEnd:
		return "END"
	case MsgFileName:
		return "FILE-NAME"
	case MsgTextFragment:
		return "TEXT-FRAGMENT"
	case MsgFIN:
		return "FIN"
	case MsgNACK:
		return "NACK"
	case MsgFINACK:
		return "FIN-ACK"
	case MsgDataACK:
		return "ACK(data)"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// IsDataCarrying reports whether frames of this type participate in
// duplicate-msg_id suppression on the receive path.
func (t MsgType) IsDataCarrying() bool {
	return t == MsgFileFragment || t == MsgTextFragment
}

func validMsgType(t MsgType) bool {
	switch t {
	case MsgSYN, MsgSYNACK, MsgACK, MsgHeartbeat, MsgFileFragment, MsgEnd,
		MsgFileName, MsgTextFragment, MsgFIN, MsgNACK, MsgFINACK, MsgDataACK:
		return true
	default:
		return false
	}
}

// HeaderSize is the fixed size, in bytes, of the on-wire header.
const HeaderSize = 10

// MaxFrameSize is the hard ceiling on a complete frame (header + payload)
// imposed by the negotiated MTU default.
const MaxFrameSize = 1500

// DefaultMaxFragmentSize is the default application payload carried by a
// single fragment, and the largest one a frame can hold; /max only
// accepts values below it.
const DefaultMaxFragmentSize = MaxFrameSize - HeaderSize - 0 // 1490

// Header is the parsed form of the 10-byte frame header.
type Header struct {
	Type             MsgType
	Flags            uint8
	Length           uint16
	MsgID            uint8
	TotalFragments   uint16
	CurrentFragment  uint16
	CRC              uint16
}

// injectFaultSuffix is appended to the transmitted payload when a caller
// asks Encode to simulate corruption. It deliberately does not change the
// CRC outcome (the CRC is computed over the bytes actually sent, suffix
// included) but does make the declared Length field disagree with the
// actual transmitted payload length - see Encode's doc comment in codec.go.
var injectFaultSuffix = []byte("random text")
