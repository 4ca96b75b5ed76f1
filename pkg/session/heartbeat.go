package session

import (
	"context"
	"time"

	"github.com/librescoot/reliable-udp/pkg/wire"
)

// heartbeatLoop runs the role-specific supervisor described by the
// spec: the initiator proactively pings the responder and expects a
// reply within a poll window; the responder wakes on a longer sleep
// and checks whether a heartbeat arrived meanwhile, replying if so.
func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	// Heartbeats only make sense once the handshake has completed;
	// Run is only ever called after Open succeeds, so no extra guard
	// is needed here beyond honoring cancellation and the end flag.
	if s.role == RoleInitiator {
		s.heartbeatAsInitiator(ctx)
	} else {
		s.heartbeatAsResponder(ctx)
	}
}

func (s *Session) heartbeatAsInitiator(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.endConnection.Load() {
			return
		}

		if err := s.sendControl(wire.MsgHeartbeat); err != nil {
			s.logHeartbeat("failed to send heartbeat: %v", err)
		}

		received := false
		select {
		case <-s.heartbeatInbox:
			received = true
		case <-time.After(s.cfg.HeartbeatPollWindow):
		case <-s.done:
			return
		}

		if received {
			s.missedHeartbeats = 0
			continue
		}

		s.missedHeartbeats++
		s.metrics.IncHeartbeatMissed()
		s.logHeartbeat("no response within poll window (%d/%d missed)", s.missedHeartbeats, s.cfg.MissThreshold)
		if s.missedHeartbeats >= s.cfg.MissThreshold {
			s.terminal(wire.ErrHeartbeatLost, "heartbeat-lost")
			return
		}
	}
}

func (s *Session) heartbeatAsResponder(ctx context.Context) {
	for {
		select {
		case <-time.After(s.cfg.ResponderSleep):
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
		if s.endConnection.Load() {
			return
		}

		select {
		case <-s.heartbeatInbox:
			s.missedHeartbeats = 0
			if err := s.sendControl(wire.MsgHeartbeat); err != nil {
				s.logHeartbeat("failed to echo heartbeat: %v", err)
			}
		default:
			s.missedHeartbeats++
			s.metrics.IncHeartbeatMissed()
			s.logHeartbeat("no heartbeat seen this cycle (%d/%d missed)", s.missedHeartbeats, s.cfg.MissThreshold)
		}

		if s.missedHeartbeats >= s.cfg.MissThreshold {
			s.terminal(wire.ErrHeartbeatLost, "heartbeat-lost")
			return
		}
	}
}
