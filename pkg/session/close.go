package session

import (
	"time"

	"github.com/librescoot/reliable-udp/pkg/wire"
)

// CloseGraceful implements /end fr: send FIN, wait for FIN-ACK
// (retransmitting FIN on each retry interval until it arrives), reply
// with a final ACK, and finalize. It is meant to be called from the
// send/command loop, the same goroutine that would otherwise be
// blocked reading the next REPL command.
func (s *Session) CloseGraceful() error {
	s.phase.Store(int32(PhaseClosing))
	s.metrics.SetState(int(PhaseClosing))

	if err := s.sendControl(wire.MsgFIN); err != nil {
		return err
	}
	s.logClose("FIN sent")

	ticker := time.NewTicker(finAckRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case typ := <-s.closeInbox:
			if typ != wire.MsgFINACK {
				continue
			}
			s.logClose("FIN-ACK received")
			if err := s.sendControl(wire.MsgACK); err != nil {
				return err
			}
			s.logClose("ACK sent, closing")
			s.terminal(nil, "clean-close-initiator")
			return nil
		case <-ticker.C:
			if err := s.sendControl(wire.MsgFIN); err != nil {
				return err
			}
			s.logClose("FIN resent")
		case <-s.done:
			return nil
		}
	}
}

// CloseAbrupt implements /end: optionally notify the peer with an END
// frame, then tear the session down immediately without waiting for
// any handshake.
func (s *Session) CloseAbrupt(notifyPeer bool) error {
	if notifyPeer {
		if err := s.sendControl(wire.MsgEnd); err != nil {
			s.logClose("failed to send END: %v", err)
		}
	}
	s.terminal(nil, "abrupt-close")
	return nil
}
