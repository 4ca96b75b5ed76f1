package session

import (
	"context"
	"fmt"
	"time"

	"github.com/librescoot/reliable-udp/pkg/wire"
)

// Open performs the three-way handshake: wait for
// either a SYN from the peer or a local read timeout (in which case send
// our own SYN), reply to a first SYN with SYN-ACK, and finish on
// receiving SYN-ACK (reply ACK) or ACK (after having sent SYN-ACK). It
// blocks the caller's goroutine directly on the socket - by design, this
// runs before Run starts the receive loop, so there is only ever one
// reader of the socket at any point in the session's lifetime.
func (s *Session) Open(ctx context.Context) error {
	synReceived := false
	buf := make([]byte, wire.MaxFrameSize+64)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
			return fmt.Errorf("session: failed to set handshake read deadline: %w", err)
		}
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !isTimeout(err) {
				return fmt.Errorf("session: handshake read failed: %w", err)
			}
			if err := s.sendControl(wire.MsgSYN); err != nil {
				return fmt.Errorf("session: failed to send SYN: %w", err)
			}
			s.logHandshake("SYN sent")
			continue
		}

		h, _, derr := wire.Decode(buf[:n])
		if derr != nil {
			// Too short to trust; ignored exactly like a timeout tick
			// with no action taken.
			continue
		}

		switch h.Type {
		case wire.MsgSYN:
			if synReceived {
				continue
			}
			s.logHandshake("SYN received")
			synReceived = true
			if err := s.sendControl(wire.MsgSYNACK); err != nil {
				return fmt.Errorf("session: failed to send SYN-ACK: %w", err)
			}
			s.logHandshake("SYN-ACK sent")

		case wire.MsgSYNACK:
			s.logHandshake("SYN-ACK received")
			if err := s.sendControl(wire.MsgACK); err != nil {
				return fmt.Errorf("session: failed to send ACK: %w", err)
			}
			s.logHandshake("ACK sent")
			return s.onOpened()

		case wire.MsgACK:
			if !synReceived {
				continue
			}
			s.logHandshake("ACK received")
			return s.onOpened()
		}
	}
}

func (s *Session) onOpened() error {
	s.phase.Store(int32(PhaseEstablished))
	s.metrics.SetState(int(PhaseEstablished))
	if s.bus != nil {
		if err := s.bus.PublishLifecycle("opened"); err != nil {
			s.logHandshake("failed to publish open event: %v", err)
		}
	}
	return nil
}
