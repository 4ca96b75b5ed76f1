package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/librescoot/reliable-udp/pkg/wire"
)

// allocMsgID returns the next msg_id for a whole outbound message,
// wrapping modulo 256 via uint8 overflow.
func (s *Session) allocMsgID() uint8 {
	s.nextMsgID++
	return s.nextMsgID
}

func chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

// SendText fragments message into chunks of at most MaxFragmentSize
// bytes and drives each fragment through sendFragmentWithRetry under a
// single freshly allocated msg_id.
func (s *Session) SendText(message string) error {
	chunks := chunk([]byte(message), s.maxFragmentSize)
	return s.sendFragmented(wire.MsgTextFragment, chunks, "text")
}

// SendFile reads path from disk, announces its base name via a
// fire-and-forget FILE-NAME frame (no ack is expected for it, only for
// the data fragments that follow), then fragments and sends the file
// contents the same way SendText does.
func (s *Session) SendFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("session: failed to read file %s: %w", path, err)
	}

	name := filepath.Base(path)
	frame, err := wire.Encode(wire.MsgFileName, 0, 1, 1, 0, []byte(name), false)
	if err != nil {
		return fmt.Errorf("session: failed to encode file name frame: %w", err)
	}
	if _, err := s.conn.WriteToUDP(frame, s.remote); err != nil {
		return fmt.Errorf("session: failed to send file name frame: %w", err)
	}
	s.metrics.ObserveSent(wire.MsgFileName.String())

	chunks := chunk(data, s.maxFragmentSize)
	return s.sendFragmented(wire.MsgFileFragment, chunks, "file")
}

func (s *Session) sendFragmented(msgType wire.MsgType, chunks [][]byte, kind string) error {
	start := time.Now()
	msgID := s.allocMsgID()
	total := uint16(len(chunks))

	for i, data := range chunks {
		current := uint16(i + 1)
		if err := s.sendFragmentWithRetry(msgType, msgID, total, current, data); err != nil {
			return err
		}
	}

	s.metrics.ObserveTransfer(kind, time.Since(start).Seconds())
	return nil
}

// sendFragmentWithRetry implements stop-and-wait ARQ for one fragment:
// send, wait up to AckTimeout for an ACK(data)/NACK, and resend on
// either a NACK or a timeout. A NACK clears the session's armed
// inject-error flag before resending, so /error corrupts a fragment's
// attempts only until the first NACK; a timeout resend keeps the fault.
func (s *Session) sendFragmentWithRetry(msgType wire.MsgType, msgID uint8, total, current uint16, data []byte) error {
	for {
		if s.endConnection.Load() {
			return wire.ErrPeerClosed
		}

		fault := s.injectError
		frame, err := wire.Encode(msgType, 0, total, current, msgID, data, fault)
		if err != nil {
			return err
		}
		if _, err := s.conn.WriteToUDP(frame, s.remote); err != nil {
			return err
		}
		s.metrics.ObserveSent(msgType.String())
		if fault {
			s.logSend("fragment %d/%d sent with injected fault", current, total)
		}

		select {
		case resp := <-s.ackInbox:
			switch resp {
			case wire.MsgDataACK:
				return nil
			case wire.MsgNACK:
				s.injectError = false
				s.metrics.IncRetransmit()
				continue
			}
		case <-time.After(s.cfg.AckTimeout):
			s.metrics.IncRetransmit()
			continue
		case <-s.done:
			return wire.ErrPeerClosed
		}
	}
}
