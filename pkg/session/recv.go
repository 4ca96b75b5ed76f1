package session

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/librescoot/reliable-udp/pkg/wire"
)

// recvLoop is the session's sole socket reader. Every other goroutine
// learns about incoming frames only through the channels this loop
// feeds.
func (s *Session) recvLoop(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, wire.MaxFrameSize+64)
	for {
		if s.endConnection.Load() || ctx.Err() != nil {
			return
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(recvPollInterval)); err != nil {
			s.logRecv("failed to set read deadline: %v", err)
			return
		}
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				s.tickCloseRetries()
				continue
			}
			if s.endConnection.Load() {
				return
			}
			s.logRecv("transient read error: %v", err)
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		s.handleDatagram(datagram, from)
	}
}

// tickCloseRetries resends a pending FIN-ACK if the peer's closing ACK
// has not arrived within finAckRetryInterval, giving up (and closing
// anyway) after maxFinAckRetries.
func (s *Session) tickCloseRetries() {
	if !s.finAckActive {
		return
	}
	if time.Since(s.finAckSentAt) < finAckRetryInterval {
		return
	}
	s.finAckRetries++
	if s.finAckRetries > maxFinAckRetries {
		s.finAckActive = false
		s.terminal(nil, "clean-close-responder-timeout")
		return
	}
	if err := s.sendControl(wire.MsgFINACK); err != nil {
		s.logClose("failed to resend FIN-ACK: %v", err)
		return
	}
	s.finAckSentAt = time.Now()
}

func (s *Session) handleDatagram(datagram []byte, from *net.UDPAddr) {
	h, payload, err := wire.Decode(datagram)
	if err != nil {
		return // too short to trust, silently dropped
	}
	s.metrics.ObserveReceived(h.Type.String())

	if h.Type == wire.MsgHeartbeat {
		select {
		case s.heartbeatInbox <- struct{}{}:
		default:
		}
		return
	}

	if wire.CRC16(payload) != h.CRC {
		s.metrics.IncCrcFailure()
		s.logRecv("crc mismatch on %s frame, sending NACK", h.Type)
		_ = s.sendControl(wire.MsgNACK)
		return
	}
	if int(h.Length) != len(payload) {
		s.metrics.IncLengthMismatch()
		s.logRecv("length mismatch on %s frame (declared %d, got %d), sending NACK", h.Type, h.Length, len(payload))
		_ = s.sendControl(wire.MsgNACK)
		return
	}

	if h.Type.IsDataCarrying() {
		// All fragments of one message share its msg_id, so a repeated
		// msg_id is a duplicate only when that message has already been
		// completed or this fragment index is already buffered.
		frags := s.textFrags
		if h.Type == wire.MsgFileFragment {
			frags = s.fileFrags
		}
		_, buffered := frags[h.CurrentFragment]
		if s.lastAcceptedMsgID == int(h.MsgID) && (len(frags) == 0 || buffered) {
			s.metrics.IncDuplicate()
			s.logRecv("duplicate msg_id %d, sending NACK", h.MsgID)
			_ = s.sendControl(wire.MsgNACK)
			return
		}
		if s.lastAcceptedMsgID >= 0 {
			gap := (int(h.MsgID) - s.lastAcceptedMsgID + 256) % 256
			if gap > 1 {
				s.logRecv("msg_id jumped from %d to %d (gap %d)", s.lastAcceptedMsgID, h.MsgID, gap)
			}
		}
		s.lastAcceptedMsgID = int(h.MsgID)
	}

	switch h.Type {
	case wire.MsgNACK, wire.MsgDataACK:
		select {
		case s.ackInbox <- h.Type:
		default:
		}
	case wire.MsgFileName:
		s.pendingFileName = string(payload)
	case wire.MsgFileFragment:
		s.handleFileFragment(h, payload)
	case wire.MsgTextFragment:
		s.handleTextFragment(h, payload)
	case wire.MsgFIN:
		s.handleFIN()
	case wire.MsgEnd:
		s.terminal(wire.ErrPeerClosed, "peer-end")
	case wire.MsgACK, wire.MsgFINACK:
		if h.Type == wire.MsgACK && s.finAckActive {
			s.finAckActive = false
			s.logClose("ACK received, closing")
			s.terminal(nil, "clean-close-responder")
			return
		}
		select {
		case s.closeInbox <- h.Type:
		default:
		}
	case wire.MsgSYN, wire.MsgSYNACK:
		// Stray handshake frames after establishment are ignored.
	}
}

func (s *Session) handleFIN() {
	s.phase.Store(int32(PhaseClosing))
	s.metrics.SetState(int(PhaseClosing))
	s.logClose("FIN received, sending FIN-ACK")
	if err := s.sendControl(wire.MsgFINACK); err != nil {
		s.logClose("failed to send FIN-ACK: %v", err)
		return
	}
	s.finAckActive = true
	s.finAckSentAt = time.Now()
	s.finAckRetries = 0
}

func (s *Session) handleTextFragment(h wire.Header, payload []byte) {
	if h.CurrentFragment == 1 {
		s.textFrags = make(map[uint16][]byte)
	}
	s.textFrags[h.CurrentFragment] = append([]byte(nil), payload...)
	_ = s.sendControl(wire.MsgDataACK)

	if h.CurrentFragment != h.TotalFragments {
		return
	}

	var buf bytes.Buffer
	for i := uint16(1); i <= h.TotalFragments; i++ {
		buf.Write(s.textFrags[i])
	}
	s.textFrags = make(map[uint16][]byte)

	message := buf.String()
	if err := s.sink.DeliverText(message); err != nil {
		s.logRecv("failed to deliver text message: %v", err)
	}
}

func (s *Session) handleFileFragment(h wire.Header, payload []byte) {
	if h.CurrentFragment == 1 {
		s.fileFrags = make(map[uint16][]byte)
	}
	s.fileFrags[h.CurrentFragment] = append([]byte(nil), payload...)
	_ = s.sendControl(wire.MsgDataACK)

	if h.CurrentFragment != h.TotalFragments {
		return
	}

	var buf bytes.Buffer
	for i := uint16(1); i <= h.TotalFragments; i++ {
		buf.Write(s.fileFrags[i])
	}
	s.fileFrags = make(map[uint16][]byte)

	name := s.pendingFileName
	if name == "" {
		name = "received-file"
	}
	s.pendingFileName = ""

	if err := s.sink.SaveFile(name, buf.Bytes()); err != nil {
		s.logRecv("failed to save received file %s: %v", name, err)
	}
}
